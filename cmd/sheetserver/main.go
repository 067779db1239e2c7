// Command sheetserver runs the live websocket sheet demo.
package main

import (
	"flag"
	"log"

	"github.com/Maxibang/sheet/liveserver"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "address to listen on")
	staticDir := flag.String("static", "assets/liveserver", "directory of static assets to serve at /")
	flag.Parse()

	srv := liveserver.NewServer()
	if err := srv.Start(*addr, *staticDir); err != nil {
		log.Fatal(err)
	}
}
