package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

var itemIndex = regexp.MustCompile(`items\[(\d+)\]`)

// New returns a validator that reports fields by their JSON names.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Normalize trims identifiers so blank values fail "required".
func Normalize(req *PlaceOrderRequest) {
	req.UserID = strings.TrimSpace(req.UserID)
	for i := range req.Items {
		req.Items[i].ProductID = strings.TrimSpace(req.Items[i].ProductID)
	}
}

// Validate normalizes req and returns every violation as a client message.
// An empty result means req is valid.
func Validate(v *validatorv10.Validate, req *PlaceOrderRequest) []string {
	Normalize(req)

	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}

	details := make([]string, 0, len(ve))
	seen := map[string]bool{}
	for _, fe := range ve {
		msg := message(req, fe)
		if seen[msg] {
			continue
		}
		seen[msg] = true
		details = append(details, msg)
	}
	return details
}

func message(req *PlaceOrderRequest, fe validatorv10.FieldError) string {
	switch fe.Field() {
	case "userId":
		return "userId is required"
	case "items":
		if fe.Tag() == "max" {
			return fmt.Sprintf("at most %d items are allowed", MaxItems)
		}
		return "items are required"
	case "productId":
		return "productId is required for each item"
	case "quantity":
		return fmt.Sprintf("quantity must be >= 1 for productId: %s", productIDAt(req, fe.Namespace()))
	case "price":
		return fmt.Sprintf("price must be >= 0 for productId: %s", productIDAt(req, fe.Namespace()))
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

func productIDAt(req *PlaceOrderRequest, namespace string) string {
	m := itemIndex.FindStringSubmatch(namespace)
	if m == nil {
		return ""
	}
	i, err := strconv.Atoi(m[1])
	if err != nil || i >= len(req.Items) {
		return ""
	}
	return req.Items[i].ProductID
}
