package dispatch

import "github.com/mx-proto/mx/logx"

func loggerForTest() logx.Logger {
	return logx.Nop()
}
