package mybatis

// Interceptor is the plugin extension point (spec §4.I). Implementations
// wrap exactly the four permitted target kinds; a wrapper that has no
// business with a given target returns it unchanged.
type Interceptor interface {
	WrapExecutor(target Executor) Executor
	WrapParameterHandler(target ParameterHandler) ParameterHandler
	WrapResultSetHandler(target ResultSetHandler) ResultSetHandler
	WrapStatementHandler(target StatementHandler) StatementHandler
}

// BaseInterceptor gives plugin authors a no-op default for all four
// construction points, so a plugin only overrides the one it targets —
// mirroring gdb's optional hook pattern where most callback slots are nil.
type BaseInterceptor struct{}

func (BaseInterceptor) WrapExecutor(target Executor) Executor                         { return target }
func (BaseInterceptor) WrapParameterHandler(target ParameterHandler) ParameterHandler { return target }
func (BaseInterceptor) WrapResultSetHandler(target ResultSetHandler) ResultSetHandler { return target }
func (BaseInterceptor) WrapStatementHandler(target StatementHandler) StatementHandler { return target }

func wrapResultSetHandler(config *Configuration, target ResultSetHandler) ResultSetHandler {
	for _, i := range config.interceptors {
		target = i.WrapResultSetHandler(target)
	}
	return target
}

func wrapStatementHandler(config *Configuration, target StatementHandler) StatementHandler {
	for _, i := range config.interceptors {
		target = i.WrapStatementHandler(target)
	}
	return target
}

func wrapParameterHandler(config *Configuration, target ParameterHandler) ParameterHandler {
	for _, i := range config.interceptors {
		target = i.WrapParameterHandler(target)
	}
	return target
}
