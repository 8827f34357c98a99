package main

import "github.com/Magnus-zzz/Whiteout-Survival--Discord-bot/cmd"

func main() {
	cmd.Execute()
}
