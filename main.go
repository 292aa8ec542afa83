// Command chainctl lists, runs and tracks workflow chains for a project.
package main

import "chainctl/internal/cli"

func main() {
	cli.Execute()
}
