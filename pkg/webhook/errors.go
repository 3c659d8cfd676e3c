package webhook

import "errors"

var (
	ErrInvalidConfiguration = errors.New("invalid webhook configuration")
	ErrMissingSignature     = errors.New("missing webhook signature headers")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
)
