package banner

import "fmt"

const banner = `
 ██████╗ ██████╗ ███╗   ██╗██╗   ██╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██╔═══██╗████╗  ██║██║   ██║██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ██║   ██║██╔██╗ ██║██║   ██║███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║     ██║   ██║██║╚██╗██║╚██╗ ██╔╝╚════██║  ╚██╔╝  ██║╚████║██║
╚██████╗╚██████╔╝██║ ╚████║ ╚████╔╝ ███████║   ██║   ██║ ╚███║╚██████╗
 ╚═════╝ ╚═════╝ ╚═╝  ╚═══╝  ╚═══╝  ╚══════╝   ╚═╝   ╚═╝  ╚══╝ ╚═════╝
`

// Print writes the startup banner with the effective runtime summary.
func Print(addr, dbPath, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST   /v1/conversations/{id}/messages - Send a message")
	fmt.Println("GET    /v1/conversations/{id}/messages - List the transcript")
	fmt.Println("POST   /v1/conversations/{id}/typing   - Signal typing state")
	fmt.Println("GET    /v1/conversations/{id}/presence - Who is online")
	fmt.Println("GET    /v1/conversations/{id}/state    - Connection state")
	fmt.Println("GET    /metrics                        - Prometheus metrics")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://%s/v1/conversations/c1/messages' -H 'X-User-ID: u1' -d '{\"content\": \"hello\"}'\n", addr)
	fmt.Printf("curl 'http://%s/v1/conversations/c1/messages'\n", addr)
	fmt.Println()
}
