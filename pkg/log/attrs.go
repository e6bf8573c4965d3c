package log

import "log/slog"

func ExecutionID[T ~string](id T) slog.Attr {
	return slog.String("execution_id", string(id))
}

func DefinitionID[T ~string](id T) slog.Attr {
	return slog.String("definition_id", string(id))
}

func NodeID[T ~string](id T) slog.Attr {
	return slog.String("node_id", string(id))
}

func AgentRole(role string) slog.Attr {
	return slog.String("agent_role", role)
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Strategy[T ~string](strategy T) slog.Attr {
	return slog.String("strategy", string(strategy))
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
