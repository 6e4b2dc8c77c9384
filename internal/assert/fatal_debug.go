//go:build hwcdebug

package assert

const fatal = true
