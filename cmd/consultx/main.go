package main

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	Execute(version, commit, date)
}
