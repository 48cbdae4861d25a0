package commands

// Definition describes one slash command.
type Definition struct {
	Name        string
	Description string
	Usage       string
	Aliases     []string
	Channels    []string

	// TouchesFiles marks commands that read or write agent files. They run
	// behind the file-operations circuit breaker.
	TouchesFiles bool

	// Public commands tell unauthorized callers they were denied. All other
	// commands stay silent toward them.
	Public bool

	Handler Handler
}

// Matches reports whether name is the definition's name or an alias.
func (d Definition) Matches(name string) bool {
	if d.Name == name {
		return true
	}
	return contains(d.Aliases, name)
}
