package main

import (
	"errors"
	"fmt"
)

type usageError struct {
	error
}

func newUsageError(msg string) usageError {
	return usageError{error: errors.New(msg)}
}

var errorWantedNoArgs = newUsageError("expected no (non-flag) arguments")

func errorRequiredFlag(name string) usageError {
	return usageError{error: fmt.Errorf("--%s is required", name)}
}
