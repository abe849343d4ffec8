package moderation

import (
	"errors"
)

var (
	ErrPolicyDenied       = errors.New("policy denied")
	ErrAlreadyQuarantined = errors.New("target is already quarantined")
	ErrNotQuarantined     = errors.New("target is not quarantined")
	ErrSelfTarget         = errors.New("cannot target self")
	ErrHierarchy          = errors.New("target is not below moderator in the role hierarchy")
	ErrConfigMissing      = errors.New("required role or channel is not configured")
	ErrPlatformFailure    = errors.New("platform call failed")
)
