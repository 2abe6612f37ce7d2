package main

import "github.com/eleven-am/stt-gateway/internal/bootstrap"

func main() {
	bootstrap.Run()
}
