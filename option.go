package llc

import "time"

// ControllerOption is the interface a controller implements to accept
// configuration options.
type ControllerOption interface {
	SetPublicAddress(Addr) error
	SetConnectionSlots(int) error
	SetBufferPool(size, count int) error
	SetWhitelistCapacity(int) error
	SetCompletedPacketsInterval(time.Duration) error
	SetErrorHandler(handler func(error)) error
}

// An Option is a configuration function, which configures the controller.
type Option func(ControllerOption) error

// OptPublicAddress sets the controller's public device address.
func OptPublicAddress(a Addr) Option {
	return func(opt ControllerOption) error {
		return opt.SetPublicAddress(a)
	}
}

// OptConnectionSlots sets the number of connection state machine slots.
func OptConnectionSlots(n int) Option {
	return func(opt ControllerOption) error {
		return opt.SetConnectionSlots(n)
	}
}

// OptBufferPool sets the size and count of the packet buffer pool.
func OptBufferPool(size, count int) Option {
	return func(opt ControllerOption) error {
		return opt.SetBufferPool(size, count)
	}
}

// OptWhitelistCapacity sets the number of whitelist entries.
func OptWhitelistCapacity(n int) Option {
	return func(opt ControllerOption) error {
		return opt.SetWhitelistCapacity(n)
	}
}

// OptCompletedPacketsInterval sets the minimum spacing between
// Number Of Completed Packets events.
func OptCompletedPacketsInterval(d time.Duration) Option {
	return func(opt ControllerOption) error {
		return opt.SetCompletedPacketsInterval(d)
	}
}

// OptErrorHandler sets error handler
func OptErrorHandler(handler func(error)) Option {
	return func(opt ControllerOption) error {
		return opt.SetErrorHandler(handler)
	}
}
