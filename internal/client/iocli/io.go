package iocli

//go:generate moq -out io_mock.go . IO

// IO вывод команд клиента
type IO interface {
	Println(a ...any)
	Printf(format string, a ...any)
}
