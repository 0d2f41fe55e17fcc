package consts

type traceKey struct{}

// TraceKey 链路追踪ID在 context 中的键
var TraceKey = traceKey{}

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)
