package main

import (
	"context"
	"encoding/json"
	"fmt"

	objectplugin "github.com/masegraye/object-plugin-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type fetchedObject struct {
	Name       string                     `json:"name"`
	Type       string                     `json:"type"`
	Payload    []byte                     `json:"payload"`
	References []objectplugin.TypedTicket `json:"references,omitempty"`
	Children   []fetchedObject            `json:"children,omitempty"`
}

func newFetchCmd(v *viper.Viper) *cobra.Command {
	var (
		follow bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "fetch NAME",
		Short: "Fetch a published object",
		Long:  "Fetch serializes the object published under NAME. With --follow, every typed reference it embeds is fetched as well, within the same session.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(v)
			if err != nil {
				return err
			}
			defer client.Close(context.Background())

			ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration(flagTimeout))
			defer cancel()

			resp, err := client.Fetch(ctx, args[0])
			if err != nil {
				return fmt.Errorf("fetch %q: %w", args[0], err)
			}
			obj := fetchedObject{Name: args[0], Type: resp.Type, Payload: resp.Payload, References: resp.References}

			if follow {
				for _, ref := range resp.References {
					if ref.Type == "" {
						continue
					}
					child, err := client.FetchTicket(ctx, ref.Ticket)
					if err != nil {
						return fmt.Errorf("fetch reference %d: %w", ref.Index, err)
					}
					obj.Children = append(obj.Children, fetchedObject{
						Name:       fmt.Sprintf("%s[%d]", args[0], ref.Index),
						Type:       child.Type,
						Payload:    child.Payload,
						References: child.References,
					})
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(obj)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderObject(obj))
			return err
		},
	}

	cmd.Flags().BoolVar(&follow, "follow", false, "also fetch every typed reference")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
