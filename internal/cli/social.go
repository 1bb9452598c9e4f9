package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/kindred/internal/client/api"
)

// authRequired はサインインが必要なコマンドにする。
func (a *app) authRequired(cmd *cobra.Command) *cobra.Command {
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return a.requireAuth()
	}
	return cmd
}

func (a *app) newFeedCommand() *cobra.Command {
	return a.authRequired(&cobra.Command{
		Use:   "feed",
		Short: "Show profiles recommended for you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.rt.API.GetFeed(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(resp, func(w *tabPrinter) {
				if len(resp.Profiles) == 0 {
					w.row("No profiles right now. Check back later.")
					return
				}
				w.row("ID", "NAME", "LOCATION", "IMAGES", "PROMPTS")
				for _, p := range resp.Profiles {
					var name, location string
					if p.Details != nil {
						name, location = deref(p.Details.Name), deref(p.Details.Location)
					}
					w.row(p.ID, name, location, strconv.Itoa(len(p.Images)), strconv.Itoa(len(p.Prompts)))
				}
			})
		},
	})
}

func (a *app) newLikeCommand() *cobra.Command {
	var comment, contextType, contextID string

	cmd := a.authRequired(&cobra.Command{
		Use:   "like <user-id>",
		Short: "Like a profile, optionally on a specific image or prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.InteractRequest{TargetUserID: args[0], Action: api.ActionLike}
			if comment != "" {
				req.Comment = &comment
			}
			if contextType != "" || contextID != "" {
				req.Context = &api.InteractionContext{Type: contextType, ID: contextID}
			}
			return a.interact(cmd, req)
		},
	})
	cmd.Flags().StringVar(&comment, "comment", "", "Comment sent with the like")
	cmd.Flags().StringVar(&contextType, "on", "", "What you liked: image or prompt")
	cmd.Flags().StringVar(&contextID, "on-id", "", "ID of the liked image or prompt")
	return cmd
}

func (a *app) newPassCommand() *cobra.Command {
	return a.authRequired(&cobra.Command{
		Use:   "pass <user-id>",
		Short: "Pass on a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.interact(cmd, api.InteractRequest{TargetUserID: args[0], Action: api.ActionPass})
		},
	})
}

func (a *app) interact(cmd *cobra.Command, req api.InteractRequest) error {
	resp, err := a.rt.API.Interact(cmd.Context(), req)
	if err != nil {
		return err
	}
	return a.print(resp, func(w *tabPrinter) {
		switch {
		case resp.Status == api.InteractMatch:
			w.row("It's a match!", resp.MatchID)
		case req.Action == api.ActionPass:
			w.row("Passed.")
		default:
			w.row("Like sent.")
		}
	})
}

func (a *app) newLikesCommand() *cobra.Command {
	return a.authRequired(&cobra.Command{
		Use:   "likes",
		Short: "Show likes you have received",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			likes, err := a.rt.API.GetLikes(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(likes, func(w *tabPrinter) {
				w.row("FROM", "ON", "COMMENT", "AT")
				for _, l := range likes {
					on := ""
					if l.Context != nil {
						on = l.Context.Type
					}
					w.row(l.FromUserID, on, deref(l.Comment), l.CreatedAt.Format(time.RFC3339))
				}
			})
		},
	})
}

func (a *app) newMatchesCommand() *cobra.Command {
	return a.authRequired(&cobra.Command{
		Use:   "matches",
		Short: "List your matches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			matches, err := a.rt.API.GetMatches(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(matches, func(w *tabPrinter) {
				w.row("MATCH", "WITH", "LAST MESSAGE")
				for _, m := range matches {
					with := deref(m.WithUser.Name)
					if with == "" {
						with = m.WithUser.ID
					}
					last := ""
					if m.LastMessage != nil {
						last = m.LastMessage.Text
						if !m.LastMessage.IsRead {
							last = "* " + last
						}
					}
					w.row(m.ID, with, last)
				}
			})
		},
	})
}

func (a *app) newMessagesCommand() *cobra.Command {
	var limit int

	cmd := a.authRequired(&cobra.Command{
		Use:   "messages <match-id>",
		Short: "Show the conversation with a match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := a.rt.API.GetMessages(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			// 送信者IDはバックエンドのユーザーIDのため、自分のプロフィールIDと比較する
			me := ""
			if profile, err := a.rt.Session.RefreshProfile(cmd.Context()); err == nil && profile != nil {
				me = profile.ID
			}
			return a.print(msgs, func(w *tabPrinter) {
				for _, m := range msgs {
					who := "them"
					if m.SenderID == me {
						who = "you"
					}
					w.row(m.CreatedAt.Format("2006-01-02 15:04"), who, m.Text)
				}
			})
		},
	})
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of messages")
	return cmd
}

func (a *app) newSendCommand() *cobra.Command {
	return a.authRequired(&cobra.Command{
		Use:   "send <match-id> <text>...",
		Short: "Send a message to a match",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := a.rt.API.SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return a.print(msg, func(w *tabPrinter) {
				w.row("Sent", msg.ID, msg.CreatedAt.Format(time.RFC3339))
			})
		},
	})
}
