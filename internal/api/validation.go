package api

import (
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/BTreeMap/Kantei/internal/messaging"
)

// twilioWebhookForm is the form payload of a Twilio WhatsApp webhook.
type twilioWebhookForm struct {
	MessageSid        string `form:"MessageSid" validate:"required"`
	From              string `form:"From" validate:"required,owner"`
	Body              string `form:"Body" validate:"max=4096"`
	NumMedia          int    `form:"NumMedia" validate:"min=0"`
	MediaURL0         string `form:"MediaUrl0" validate:"omitempty,url"`
	MediaContentType0 string `form:"MediaContentType0"`
}

func (f twilioWebhookForm) toWebhook() messaging.TwilioWebhook {
	return messaging.TwilioWebhook{
		MessageSid:        f.MessageSid,
		From:              f.From,
		Body:              f.Body,
		NumMedia:          f.NumMedia,
		MediaURL0:         f.MediaURL0,
		MediaContentType0: f.MediaContentType0,
	}
}

// newValidator returns a validator with the owner tag registered.
func newValidator() *validatorv10.Validate {
	v := validatorv10.New()
	_ = v.RegisterValidation("owner", func(fl validatorv10.FieldLevel) bool {
		_, err := messaging.CanonicalOwner(fl.Field().String())
		return err == nil
	})
	return v
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	if ve, ok := err.(validatorv10.ValidationErrors); ok {
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}
