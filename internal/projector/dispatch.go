package projector

// Dispatcher runs producer callbacks on the consumer's scheduling context.
// Implementations must run tasks one at a time and in the order they were
// dispatched, and Dispatch must not block.
type Dispatcher interface {
	Dispatch(task func())
}

// DispatcherFunc adapts a function into a Dispatcher.
type DispatcherFunc func(task func())

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(task func()) { f(task) }

// Inline runs every task immediately on the goroutine that delivered it. It is
// the default and suits producers that already deliver on the consumer's loop.
var Inline Dispatcher = DispatcherFunc(func(task func()) { task() })

// Consumer is the consumption point a projector reports to.
type Consumer interface {
	// MarkForRender signals that the projected state changed.
	MarkForRender()
	// ReportError receives a failure from the bound producer.
	ReportError(err error)
}

// ConsumerFuncs adapts a pair of functions into a Consumer. Nil fields are
// ignored.
type ConsumerFuncs struct {
	OnRender func()
	OnError  func(error)
}

// MarkForRender calls OnRender.
func (c ConsumerFuncs) MarkForRender() {
	if c.OnRender != nil {
		c.OnRender()
	}
}

// ReportError calls OnError.
func (c ConsumerFuncs) ReportError(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}
