package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	objectplugin "github.com/masegraye/object-plugin-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStreamCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream NAME",
		Short: "Open a message stream to a published object",
		Long: `Stream connects to the object published under NAME and prints every
message it sends. Each line read from stdin is sent to the object; trailing
"@TICKET" words attach the session objects with those tickets. The stream
closes at end of input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(v)
			if err != nil {
				return err
			}
			defer client.Close(context.Background())

			stream, err := client.Connect(cmd.Context(), objectplugin.NameTarget(args[0]))
			if err != nil {
				return fmt.Errorf("connect %q: %w", args[0], err)
			}
			defer stream.Close()

			done := make(chan error, 1)
			go func() {
				done <- printMessages(cmd.OutOrStdout(), stream)
			}()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				payload, tickets, err := parseLine(scanner.Text())
				if err != nil {
					return err
				}
				if err := stream.Send(payload, tickets...); err != nil {
					// The receive side reports why the stream ended.
					break
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			if err := stream.CloseSend(); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			return <-done
		},
	}
	return cmd
}

func printMessages(w io.Writer, stream *objectplugin.ClientStream) error {
	for {
		msg, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, renderMessage(msg)); err != nil {
			return err
		}
	}
}

// parseLine splits "text @1 @2" into a payload and tickets.
func parseLine(line string) ([]byte, []uint32, error) {
	fields := strings.Fields(line)
	var tickets []uint32
	for len(fields) > 0 {
		last := fields[len(fields)-1]
		if !strings.HasPrefix(last, "@") {
			break
		}
		n, err := strconv.ParseUint(last[1:], 10, 32)
		if err != nil {
			return nil, nil, fmt.Errorf("bad ticket %q: %w", last, err)
		}
		tickets = append([]uint32{uint32(n)}, tickets...)
		fields = fields[:len(fields)-1]
	}
	return []byte(strings.Join(fields, " ")), tickets, nil
}
