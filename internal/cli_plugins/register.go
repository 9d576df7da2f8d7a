package cliplugins

import "lanchat/pkg/cli"

// RegisterAll attaches every shell command for engine.
func RegisterAll(c *cli.CLI, engine Engine) {
	c.RegisterPlugin(NewSendCommand(engine))
	c.RegisterPlugin(NewConnectCommand(engine))
	c.RegisterPlugin(NewDiscoverCommand(engine))
	c.RegisterPlugin(NewPeersCommand(engine))
	c.RegisterPlugin(NewMessagesCommand(engine))
	c.RegisterPlugin(NewHistoryCommand(engine))
	c.RegisterPlugin(NewWhoAmICommand(engine))
}
