package main

import (
	"log"
	"os"

	"mp4mjpeg"
)

func main() {
	if err := mp4mjpeg.Run(); err != nil {
		log.Fatal(err)
	}
	os.Exit(0)
}
