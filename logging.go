package torctl

import "go.uber.org/zap"

// correlationField tags a zap log line with the correlation id assigned to
// one outbound command by ControlSocket.SendCommand, so a host aggregating
// logs from many concurrent control connections can group lines back to a
// single command.
func correlationField(id string) zap.Field {
	return zap.String("correlation_id", id)
}
