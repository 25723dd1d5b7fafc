package config

import "errors"

// ErrConfigInvalid is wrapped by every validation failure returned from Load.
var ErrConfigInvalid = errors.New("config: invalid configuration")
