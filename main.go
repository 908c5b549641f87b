// Command leetdaily records the LeetCode problems a user solves each day.
package main

import "github.com/JakeFAU/leetdaily/cmd"

func main() {
	cmd.Execute()
}
