package main

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-demo/cmd/ema-demo"

var logger = otelslog.NewLogger(scopeName)
