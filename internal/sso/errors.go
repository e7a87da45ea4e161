package sso

import "errors"

// Common errors for the SSO subsystem
var (
	ErrProviderDisabled   = errors.New("SSO provider is disabled")
	ErrUserNotLinked      = errors.New("no local account is linked to this identity")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrDuplicateIdentity  = errors.New("identity link already exists")
	ErrAutoCreateDisabled = errors.New("automatic account creation is disabled")
)
