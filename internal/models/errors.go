package models

import "errors"

// Common validation and lookup errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrNumberRequired indicates a required channel number field is empty.
	ErrNumberRequired = errors.New("channel number is required")

	// ErrInvalidNumber indicates a channel number is not an integer or decimal like "103.1".
	ErrInvalidNumber = errors.New("channel number must be an integer or a decimal like 103.1")

	// ErrURLRequired indicates a required URL field is empty.
	ErrURLRequired = errors.New("url is required")

	// ErrInvalidProtocol indicates an unrecognized stream protocol tag.
	ErrInvalidProtocol = errors.New("invalid stream protocol")

	// ErrChannelKeyRequired indicates a required EPG channel key is empty.
	ErrChannelKeyRequired = errors.New("epg channel key is required")

	// ErrStartTimeRequired indicates a required start time field is zero.
	ErrStartTimeRequired = errors.New("start time is required")

	// ErrInvalidTimeRange indicates end time is not after start time.
	ErrInvalidTimeRange = errors.New("end time must be after start time")

	// ErrTitleRequired indicates a required title field is empty.
	ErrTitleRequired = errors.New("title is required")

	// ErrInvalidRefreshInterval indicates a cadence outside the accepted set.
	ErrInvalidRefreshInterval = errors.New("refresh interval must be one of: 30m, 1h, 2h, 4h, 6h, 12h, 1d")

	// ErrStreamNotFound indicates no enabled stream exists for a channel.
	ErrStreamNotFound = errors.New("no enabled stream for channel")

	// ErrChannelNotFound indicates a channel lookup failed.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrNumberTaken indicates a channel number collides with an enabled channel.
	ErrNumberTaken = errors.New("channel number already in use")
)
