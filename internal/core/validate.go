package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags on the fields and reports every violation
// in one error wrapping ErrInvalidStudent.
func (f StudentFields) Validate() error {
	return validationError(validate.Struct(f), ErrInvalidStudent)
}

// Validate checks a payment creation body. The month must be 1-12 and the
// amount non-negative; a zero date is allowed and filled in by the server.
func (r PaymentRequest) Validate() error {
	var msgs []string
	if err := validate.Struct(r); err != nil {
		msgs = append(msgs, messages(err)...)
	} else if m := LeadingInt(r.Month); m < 1 || m > 12 {
		msgs = append(msgs, "month must be between 1 and 12")
	}
	if r.Amount.IsNegative() {
		msgs = append(msgs, "amount must not be negative")
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidPayment, strings.Join(msgs, "; "))
}

func (r ReceiptRequest) Validate() error {
	return validationError(validate.Struct(r), ErrInvalidReceipt)
}

func validationError(err, sentinel error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", sentinel, strings.Join(messages(err), "; "))
}

func messages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fieldName(fe.Field())))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s too long (max %s characters)", fieldName(fe.Field()), fe.Param()))
		case "gte", "lte":
			msgs = append(msgs, fmt.Sprintf("%s out of range", fieldName(fe.Field())))
		case "numeric":
			msgs = append(msgs, fmt.Sprintf("%s must be numeric", fieldName(fe.Field())))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fieldName(fe.Field())))
		}
	}
	return msgs
}

// fieldName turns a Go field name into its JSON spelling.
func fieldName(goName string) string {
	if goName == "" {
		return goName
	}
	if goName == "StudentID" || goName == "PaymentID" {
		return strings.ToLower(goName[:1]) + goName[1:len(goName)-2] + "Id"
	}
	return strings.ToLower(goName[:1]) + goName[1:]
}
