package cliplugins

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"lanchat/internal/node"

	"github.com/spf13/cobra"
)

type SendCommand struct {
	cmd    *cobra.Command
	engine Engine
}

func NewSendCommand(engine Engine) *SendCommand {
	return &SendCommand{engine: engine}
}

func (c *SendCommand) Meta() *cobra.Command {
	if c.cmd == nil {
		c.cmd = &cobra.Command{
			Use:   "send <text...>",
			Short: "Send a message to every connected peer",
			Args:  cobra.MinimumNArgs(1),
		}
	}
	return c.cmd
}

func (c *SendCommand) Execute(cmd *cobra.Command, args []string) error {
	c.engine.Send(strings.Join(args, " "))
	return nil
}

type ConnectCommand struct {
	cmd    *cobra.Command
	engine Engine
}

func NewConnectCommand(engine Engine) *ConnectCommand {
	return &ConnectCommand{engine: engine}
}

func (c *ConnectCommand) Meta() *cobra.Command {
	if c.cmd != nil {
		return c.cmd
	}
	c.cmd = &cobra.Command{
		Use:   "connect <host> <port> | <host:port> | <peerId>",
		Short: "Connect to a peer manually, or to a peer from the peer book",
		Args:  cobra.RangeArgs(1, 2),
	}
	c.cmd.ValidArgsFunction = func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var hosts []string
		peers, err := c.engine.KnownPeers(context.Background())
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		for _, p := range peers {
			if p.ListenPort > 0 {
				hosts = append(hosts, net.JoinHostPort(p.Address, strconv.Itoa(p.ListenPort)))
			}
		}
		return hosts, cobra.ShellCompDirectiveNoFileComp
	}
	return c.cmd
}

func (c *ConnectCommand) Execute(cmd *cobra.Command, args []string) error {
	if len(args) == 1 && !strings.Contains(args[0], ":") {
		return c.connectKnown(cmd, args[0])
	}

	host, port, err := parseTarget(args)
	if err != nil {
		return err
	}

	if !c.engine.ConnectTo(host, port) {
		return fmt.Errorf("could not connect to %s", net.JoinHostPort(host, strconv.Itoa(port)))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "connected to %s\n", net.JoinHostPort(host, strconv.Itoa(port)))
	return nil
}

func (c *ConnectCommand) connectKnown(cmd *cobra.Command, peerID string) error {
	ok, err := c.engine.ConnectKnown(cmd.Context(), peerID)
	if err != nil {
		return fmt.Errorf("cannot connect to %s: %w", peerID, err)
	}
	if !ok {
		return fmt.Errorf("could not connect to %s", peerID)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "connected to %s\n", peerID)
	return nil
}

func parseTarget(args []string) (string, int, error) {
	var host, portStr string
	if len(args) == 2 {
		host, portStr = args[0], args[1]
	} else {
		var err error
		host, portStr, err = net.SplitHostPort(args[0])
		if err != nil {
			return "", 0, fmt.Errorf("expected host:port, got %q", args[0])
		}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	if host == "" {
		return "", 0, errors.New("host is required")
	}
	return host, port, nil
}

type DiscoverCommand struct {
	cmd    *cobra.Command
	engine Engine
}

func NewDiscoverCommand(engine Engine) *DiscoverCommand {
	return &DiscoverCommand{engine: engine}
}

func (c *DiscoverCommand) Meta() *cobra.Command {
	if c.cmd == nil {
		c.cmd = &cobra.Command{
			Use:   "discover",
			Short: "Announce this peer on the local network",
			Args:  cobra.NoArgs,
		}
	}
	return c.cmd
}

func (c *DiscoverCommand) Execute(cmd *cobra.Command, args []string) error {
	if err := c.engine.TriggerDiscovery(); err != nil {
		if errors.Is(err, node.ErrDiscoveryDisabled) {
			return errors.New("discovery is disabled, use /connect")
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "announcement sent")
	return nil
}
