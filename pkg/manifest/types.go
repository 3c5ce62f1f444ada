package manifest

// HandlerType enumerates the supported custom route handler kinds.
type HandlerType string

const (
	HandlerStatic HandlerType = "static"
	HandlerInvoke HandlerType = "invoke"
	HandlerProxy  HandlerType = "proxy"
	HandlerInproc HandlerType = "inproc"
)

// MethodAny matches every HTTP method.
const MethodAny = "ANY"

const (
	DefaultPort           = 3002
	DefaultTimeoutS       = 6
	DefaultMaxHeaderBytes = 105536
	DefaultMetricsPath    = "/@metrics"
)
