package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"text/tabwriter"

	"funwattle-chat/internal/chat"
	"funwattle-chat/internal/realtime"

	"github.com/spf13/cobra"
)

const screenOwner = "chatsync"

func roomsCmd(get func() *app) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List chat rooms for the session profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if err := a.checkSession(); err != nil {
				return err
			}
			ctx := cmd.Context()
			dir := chat.NewRoomDirectory(a.api, a.chatOptions()...)

			if !watch {
				rooms, err := dir.Refresh(ctx, a.session.ProfileID, a.session.AccessToken)
				if err != nil {
					return err
				}
				a.printRooms(rooms)
				return nil
			}

			hub, stop, err := a.startHub(ctx, dir)
			if err != nil {
				return err
			}
			defer stop()

			dir.OnPatch(func(r chat.ChatRoom) {
				fmt.Fprintf(a.out, "%s\t%s\n", r.Name, r.LastMessage)
			})

			screen := chat.NewDirectoryScreen(screenOwner, dir, hub)
			if err := screen.Mount(ctx, a.session.ProfileID, a.session.AccessToken); err != nil {
				return err
			}
			a.printRooms(screen.Rooms())

			<-ctx.Done()
			return ignoreHubClosed(screen.Unmount(context.Background()))
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and print last-message updates")
	return cmd
}

func messagesCmd(get func() *app) *cobra.Command {
	var (
		roomID string
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Print the history of a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if err := a.checkSession(); err != nil {
				return err
			}
			ctx := cmd.Context()
			stream := chat.NewMessageStream(a.api, a.chatOptions()...)

			if !follow {
				stream.Open(roomID)
				defer stream.Close()
				if _, err := stream.LoadHistory(ctx, roomID, a.session.AccessToken); err != nil {
					return err
				}
				a.printRows(chat.Rows(stream.Messages(), a.session.ProfileID))
				return nil
			}

			dir := chat.NewRoomDirectory(a.api, a.chatOptions()...)
			hub, stop, err := a.startHub(ctx, dir)
			if err != nil {
				return err
			}
			defer stop()

			printer := &followPrinter{app: a, stream: stream, viewerID: a.session.ProfileID}
			stream.OnAppend(func(chat.ChatMessage) { printer.flush() })

			screen := chat.NewRoomScreen(screenOwner, stream, hub)
			if err := screen.Mount(ctx, roomID, a.session.ProfileID, a.session.AccessToken); err != nil {
				return err
			}
			printer.start()

			<-ctx.Done()
			return ignoreHubClosed(screen.Unmount(context.Background()))
		},
	}
	cmd.Flags().StringVarP(&roomID, "room", "r", "", "chat room id")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep running and print new messages")
	cmd.MarkFlagRequired("room")
	return cmd
}

func sendCmd(get func() *app) *cobra.Command {
	var roomID, text string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if err := a.checkSession(); err != nil {
				return err
			}
			stream := chat.NewMessageStream(a.api, a.chatOptions()...)
			stream.SetDraft(text)
			return stream.Send(cmd.Context(), roomID, a.session.ProfileID, stream.Draft(), a.session.AccessToken)
		},
	}
	cmd.Flags().StringVarP(&roomID, "room", "r", "", "chat room id")
	cmd.Flags().StringVarP(&text, "text", "t", "", "message text")
	cmd.MarkFlagRequired("room")
	return cmd
}

func profilesCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the profiles of the session user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if a.session.UserID == "" || a.session.AccessToken == "" {
				return chat.ErrMissingCredentials
			}
			profiles, err := a.api.ListProfiles(cmd.Context(), a.session.UserID, a.session.AccessToken)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE")
			for _, p := range profiles {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, p.ProfileType)
			}
			return w.Flush()
		},
	}
}

func childrenCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "children",
		Short: "List children the session user has assigned work to",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			creator := chat.NewRoomCreator(a.api, a.chatOptions()...)
			children, err := creator.ChildrenFor(cmd.Context(), a.session.UserID, a.session.AccessToken)
			if err != nil {
				return err
			}
			for _, c := range children {
				fmt.Fprintf(a.out, "%s\t%s\n", c.ID, c.Name)
			}
			return nil
		},
	}
}

func startRoomCmd(get func() *app) *cobra.Command {
	var childID string

	cmd := &cobra.Command{
		Use:   "start-room",
		Short: "Start a room with the therapist assigned to a child",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if err := a.checkSession(); err != nil {
				return err
			}
			creator := chat.NewRoomCreator(a.api, a.chatOptions()...)
			room, err := creator.StartRoom(cmd.Context(), a.session.ProfileID, childID, a.session.AccessToken)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "created room %s\n", room.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&childID, "child", "", "child profile id")
	cmd.MarkFlagRequired("child")
	return cmd
}

func installTriggerCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install-trigger",
		Short: "Install the insert notification trigger (postgres transport)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			feed, err := a.realtimeFeed()
			if err != nil {
				return err
			}
			pg, ok := feed.(*realtime.PostgresFeed)
			if !ok {
				return errors.New("install-trigger needs realtime.transport=postgres")
			}
			if err := pg.InstallTrigger(cmd.Context(), a.cfg.Realtime.Table); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "trigger installed on %q\n", a.cfg.Realtime.Table)
			return nil
		},
	}
}

func (a *app) printRooms(rooms []chat.ChatRoom) {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCHILD\tLAST MESSAGE")
	for _, r := range rooms {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.ChildName, r.LastMessage)
	}
	w.Flush()
}

// followPrinter prints a followed room as it grows. Rows are always derived from the
// whole list so separators follow the same gap rule as the history. Nothing is printed
// before start, since the history load replaces whatever arrived first.
type followPrinter struct {
	app      *app
	stream   *chat.MessageStream
	viewerID string

	mu      sync.Mutex
	live    bool
	printed int
}

func (p *followPrinter) start() {
	p.mu.Lock()
	p.live = true
	p.mu.Unlock()
	p.flush()
}

func (p *followPrinter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.live {
		return
	}

	rows := chat.Rows(p.stream.Messages(), p.viewerID)
	if len(rows) <= p.printed {
		return
	}
	p.app.printRows(rows[p.printed:])
	p.printed = len(rows)
}

func (a *app) printRows(rows []chat.Row) {
	for _, r := range rows {
		if r.ShowTime {
			fmt.Fprintf(a.out, "-- %s --\n", chat.FormatTime(r.Message))
		}
		who := r.Message.SenderID
		if r.Mine {
			who = "me"
		}
		fmt.Fprintf(a.out, "%s: %s\n", who, r.Message.MessageContent)
	}
}
