package storage

import "errors"

var ErrUnknownType = errors.New("unknown stored type")
