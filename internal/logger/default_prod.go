//go:build !dev && !debug

package logger

import "github.com/rs/zerolog"

// defaultLevel define o nível padrão para builds de produção (Info)
// Usado em builds finais (sem tag 'dev' ou 'debug')
var defaultLevel = zerolog.InfoLevel
