// Command oxideterm-agent is the remote helper agent: a small binary
// deployed to a managed host and driven over a single SSH exec channel
// via line-delimited JSON-RPC (spec §4.7).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

const version = "0.1.0"

func main() {
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("oxideterm-agent %s\n", version)
		return
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	entry := log.WithField("component", "agent")

	srv := newServer(entry)
	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()

	srv.Serve(reader, writer)
}
