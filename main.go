// Command pingfs mounts a filesystem whose data lives only as long as
// it is kept cycling through ICMP Echo Request/Reply exchanges with a
// remote host.
package main

import "github.com/ShySec/pingfs/cmd"

func main() {
	cmd.Execute()
}
