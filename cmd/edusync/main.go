// Command edusync runs the offline-first classroom store: a background sync
// agent plus maintenance commands for the queue, backups and reports.
package main

import "github.com/nabhalearn/edusync/cmd/edusync/cmd"

func main() {
	cmd.Execute()
}
