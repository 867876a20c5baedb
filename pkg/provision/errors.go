package provision

import "errors"

var (
	// ErrProvisioningUnavailable is returned when the subject's lock could not
	// be acquired in time. It also wraps lock.ErrLockTimeout.
	ErrProvisioningUnavailable = errors.New("provisioning unavailable")

	// ErrConstructionFailed wraps the error of a failed BuildFunc.
	ErrConstructionFailed = errors.New("resource construction failed")

	// ErrNotFound is returned by Store.Find when no resource exists.
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicate is returned by Store.InsertIfAbsent when a resource for
	// the subject already exists.
	ErrDuplicate = errors.New("resource already exists")
)
