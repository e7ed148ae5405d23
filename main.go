package main

import "github.com/vibast-solutions/ms-go-orders/cmd"

func main() {
	cmd.Execute()
}
