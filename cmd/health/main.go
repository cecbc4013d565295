// Health prober for deploy scripts: hits /healthz over fasthttp and exits
// non-zero when the daemon is not serving.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8642", "convsyncd base URL")
	timeout := flag.Duration("timeout", 2*time.Second, "request timeout")
	flag.Parse()

	c := &fasthttp.Client{ReadTimeout: *timeout, WriteTimeout: *timeout}
	status, body, err := c.GetTimeout(nil, *addr+"/healthz", *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	if status != fasthttp.StatusOK {
		fmt.Fprintf(os.Stderr, "health check returned %d: %s\n", status, body)
		os.Exit(1)
	}
	fmt.Printf("ok: %s\n", body)
}
