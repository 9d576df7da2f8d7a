package cliplugins

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type PeersCommand struct {
	cmd    *cobra.Command
	engine Engine
}

func NewPeersCommand(engine Engine) *PeersCommand {
	return &PeersCommand{engine: engine}
}

func (c *PeersCommand) Meta() *cobra.Command {
	if c.cmd == nil {
		c.cmd = &cobra.Command{
			Use:   "peers",
			Short: "List live connections, or the peer book with --known",
			Args:  cobra.NoArgs,
		}
		c.cmd.Flags().BoolP("known", "k", false, "List every peer ever connected")
		c.cmd.Flags().String("forget", "", "Remove a peer id from the peer book")
	}
	return c.cmd
}

func (c *PeersCommand) Execute(cmd *cobra.Command, args []string) error {
	known, err := cmd.Flags().GetBool("known")
	if err != nil {
		return err
	}
	forget, err := cmd.Flags().GetString("forget")
	if err != nil {
		return err
	}

	if forget != "" {
		if err := c.engine.ForgetPeer(cmd.Context(), forget); err != nil {
			return fmt.Errorf("cannot forget %s: %w", forget, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", forget)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()

	if known {
		peers, err := c.engine.KnownPeers(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read peer book: %w", err)
		}
		if peers == nil {
			fmt.Fprintln(w, "peer book is disabled")
			return nil
		}
		fmt.Fprintln(w, "PEER\tADDRESS\tPORT\tSEEN\tCOUNT\tLAST")
		for _, p := range peers {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
				p.PeerID, p.Address, p.ListenPort, p.LastSeen.Format(time.DateTime), p.ConnectCount, p.LastDirection)
		}
		return nil
	}

	conns := c.engine.Connections()
	if len(conns) == 0 {
		fmt.Fprintln(w, "no connections")
		return nil
	}
	fmt.Fprintln(w, "ADDRESS\tPEER\tSTATE\tDIRECTION")
	for _, conn := range conns {
		direction := "in"
		if conn.Outbound {
			direction = "out"
		}
		peerID := conn.RemotePeerID
		if peerID == "" {
			peerID = "-"
		}
		fmt.Fprintf(w, "%s:%d\t%s\t%s\t%s\n", conn.Address, conn.Port, peerID, conn.State, direction)
	}
	return nil
}

type MessagesCommand struct {
	cmd    *cobra.Command
	engine Engine
}

func NewMessagesCommand(engine Engine) *MessagesCommand {
	return &MessagesCommand{engine: engine}
}

func (c *MessagesCommand) Meta() *cobra.Command {
	if c.cmd == nil {
		c.cmd = &cobra.Command{
			Use:   "messages",
			Short: "Print lines delivered in this session",
			Args:  cobra.NoArgs,
		}
		c.cmd.Flags().IntP("last", "n", 0, "Only the last N lines")
	}
	return c.cmd
}

func (c *MessagesCommand) Execute(cmd *cobra.Command, args []string) error {
	last, err := cmd.Flags().GetInt("last")
	if err != nil {
		return err
	}

	msgs := c.engine.Messages()
	if last > 0 && last < len(msgs) {
		msgs = msgs[len(msgs)-last:]
	}
	for _, m := range msgs {
		fmt.Fprintln(cmd.OutOrStdout(), m)
	}
	return nil
}

type HistoryCommand struct {
	cmd    *cobra.Command
	engine Engine
}

func NewHistoryCommand(engine Engine) *HistoryCommand {
	return &HistoryCommand{engine: engine}
}

func (c *HistoryCommand) Meta() *cobra.Command {
	if c.cmd != nil {
		return c.cmd
	}
	c.cmd = &cobra.Command{
		Use:   "history [peerId]",
		Short: "Print the stored conversation with a peer, or list peers with history",
		Args:  cobra.MaximumNArgs(1),
	}
	c.cmd.ValidArgsFunction = func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		ids, err := c.engine.HistoryPeers()
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return ids, cobra.ShellCompDirectiveNoFileComp
	}
	return c.cmd
}

func (c *HistoryCommand) Execute(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		ids, err := c.engine.HistoryPeers()
		if err != nil {
			return fmt.Errorf("failed to list history: %w", err)
		}
		if len(ids) == 0 {
			fmt.Fprintln(out, "no history yet")
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	peerID := args[0]
	lines := c.engine.History(peerID)
	if len(lines) == 0 {
		// allow a unique id prefix
		if full, ok := c.resolvePrefix(peerID); ok {
			peerID = full
			lines = c.engine.History(full)
		}
	}
	if len(lines) == 0 {
		fmt.Fprintf(out, "no history with %s\n", peerID)
		return nil
	}
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
	return nil
}

func (c *HistoryCommand) resolvePrefix(prefix string) (string, bool) {
	ids, err := c.engine.HistoryPeers()
	if err != nil {
		return "", false
	}
	var match string
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			if match != "" {
				return "", false
			}
			match = id
		}
	}
	return match, match != ""
}

type WhoAmICommand struct {
	cmd    *cobra.Command
	engine Engine
}

func NewWhoAmICommand(engine Engine) *WhoAmICommand {
	return &WhoAmICommand{engine: engine}
}

func (c *WhoAmICommand) Meta() *cobra.Command {
	if c.cmd == nil {
		c.cmd = &cobra.Command{
			Use:   "whoami",
			Short: "Show this peer's identity and discovery mode",
			Args:  cobra.NoArgs,
		}
	}
	return c.cmd
}

func (c *WhoAmICommand) Execute(cmd *cobra.Command, args []string) error {
	mode := "basic (manual connect only)"
	if mechs := c.engine.DiscoveryMechanisms(); len(mechs) > 0 {
		mode = strings.Join(mechs, ", ")
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "user: %s\npeer id: %s\nport: %d\ndiscovery: %s\n",
		c.engine.UserName(), c.engine.PeerID(), c.engine.Port(), mode)
	if dropped := c.engine.DroppedEvents(); dropped > 0 {
		fmt.Fprintf(out, "dropped events: %d (see /messages)\n", dropped)
	}
	return nil
}
