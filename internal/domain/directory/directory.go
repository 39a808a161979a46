// Package directory defines the contract this system consumes from the
// directory service: account state lookups, mobile-device enumeration,
// and device removal. The wire shape of the remote API lives behind the
// Client interface; the engine only depends on these three operations.
package directory

import (
	"context"
	"time"
)

// AccountState captures the subset of a directory account the sweep engine
// cares about. Suspended is the eligibility gate: devices belonging to an
// account that is not suspended must never be acted on.
type AccountState struct {
	ID        string
	Email     string
	Suspended bool
	OrgUnit   string
}

// Device is a mobile-device registration tied to a directory account.
type Device struct {
	ID       string
	Model    string
	Status   string
	LastSync time.Time
}

// DevicePage is one page of a device listing. NextPageToken is empty on the
// final page; callers must drain every page before treating an account as
// fully enumerated.
type DevicePage struct {
	Devices       []Device
	NextPageToken string
}

// Client is the directory service consumed by the sweep engine.
type Client interface {
	// GetAccountState returns the current state of the account identified by
	// email. Returns a not-found error when the account does not exist.
	GetAccountState(ctx context.Context, email string) (AccountState, error)

	// ListDevices returns one page of device registrations for the account.
	// Pass the previous page's NextPageToken to continue; an empty token
	// starts from the beginning.
	ListDevices(ctx context.Context, email string, pageToken string) (DevicePage, error)

	// RemoveDevice revokes a device registration by its device ID.
	RemoveDevice(ctx context.Context, deviceID string) error
}
