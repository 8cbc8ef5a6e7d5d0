package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"hotline-client/internel/files"
	. "hotline-client/internel/log"
	"hotline-client/internel/news"
	"hotline-client/internel/session"
	"hotline-client/internel/transfer"
	"hotline-client/internel/wire"
)

const requestTimeout = 30 * time.Second

func run() error {
	s := session.New()
	if err := s.Connect(GConf.Server); err != nil {
		return err
	}
	defer s.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	err := s.Login(ctx, GConf.Login, GConf.Password, GConf.Name, GConf.Icon)
	cancel()
	if err != nil {
		return err
	}

	svc := files.NewService(s)
	store := news.NewStore(s)
	mgr, err := transfer.NewManager(s, svc)
	if err != nil {
		return err
	}
	defer mgr.Close()

	switch {
	case GConf.List != "":
		return doList(svc)
	case GConf.Download != "":
		return doDownload(svc, mgr)
	case GConf.Upload != "":
		return doUpload(mgr)
	case GConf.News != "":
		return doNews(store)
	case GConf.Board:
		return doBoard(store)
	case GConf.Post != "":
		return doPostBoard(store)
	case GConf.Watch:
		return doWatch(s)
	default:
		return doList(svc)
	}
}

func doList(svc *files.Service) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	entries, err := svc.List(ctx, splitRemotePath(GConf.List))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsFolder {
			fmt.Printf("%-32s <folder> %d items\n", e.Name, e.Size)
		} else {
			fmt.Printf("%-32s %s %8d bytes\n", e.Name, e.TypeCode, e.Size)
		}
	}
	return nil
}

func doDownload(svc *files.Service, mgr *transfer.Manager) error {
	segs := splitRemotePath(GConf.Download)
	if len(segs) == 0 {
		return fmt.Errorf("nothing to download")
	}
	dir, name := segs[:len(segs)-1], segs[len(segs)-1]

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	entries, err := svc.List(ctx, dir)
	cancel()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name != name {
			continue
		}
		events := mgr.Events()
		var (
			tr  transfer.Transfer
			err error
		)
		if e.IsFolder {
			tr, err = mgr.StartFolderDownload(e, GConf.Out)
		} else if GConf.Resume {
			tr, err = mgr.StartDownload(e, GConf.Out, transfer.WithResume())
		} else {
			tr, err = mgr.StartDownload(e, GConf.Out)
		}
		if err != nil {
			return err
		}
		return awaitTransfer(events, tr.ID)
	}
	return fmt.Errorf("%s not found on the server", GConf.Download)
}

func doUpload(mgr *transfer.Manager) error {
	events := mgr.Events()
	dest := splitRemotePath(GConf.To)

	st, err := os.Stat(GConf.Upload)
	if err != nil {
		return err
	}
	var tr transfer.Transfer
	if st.IsDir() {
		tr, err = mgr.StartFolderUpload(GConf.Upload, dest)
	} else {
		tr, err = mgr.StartUpload(GConf.Upload, dest)
	}
	if err != nil {
		return err
	}
	return awaitTransfer(events, tr.ID)
}

// awaitTransfer drains manager events until the transfer reaches a terminal
// state, printing progress along the way.
func awaitTransfer(events <-chan transfer.Event, id string) error {
	lastLine := time.Now()
	for ev := range events {
		if ev.Transfer.ID != id {
			continue
		}
		switch ev.Type {
		case transfer.EventProgress:
			if time.Since(lastLine) < 500*time.Millisecond {
				continue
			}
			lastLine = time.Now()
			eta := "-"
			if d, ok := ev.Transfer.ETA(); ok {
				eta = d.Round(time.Second).String()
			}
			Log.Infof("%s %d/%d bytes, %.0f KB/s, eta %s",
				ev.Transfer.Title, ev.Transfer.Transferred, ev.Transfer.TotalSize,
				ev.Transfer.Speed/1024.0, eta)
		case transfer.EventTerminal:
			if ev.Transfer.State != transfer.Completed {
				return fmt.Errorf("transfer %s: %v", ev.Transfer.State, ev.Transfer.Err)
			}
			Log.Infoln("transfer completed", ev.Transfer.Title)
			return nil
		}
	}
	return nil
}

func doNews(store *news.Store) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	p := splitRemotePath(GConf.News)

	cats, err := store.ListCategories(ctx, p)
	if err != nil {
		return err
	}
	for _, c := range cats {
		kind := "category"
		if c.Kind == news.KindBundle {
			kind = "bundle"
		}
		fmt.Printf("%-32s <%s>\n", c.Title, kind)
	}
	if len(cats) > 0 || len(p) == 0 {
		return nil
	}

	// no containers here, treat the path as a category of articles
	arts, err := store.ListArticles(ctx, p)
	if err != nil {
		return err
	}
	for _, a := range arts {
		fmt.Printf("%8d %-40s %s %s\n", a.LocalID, a.Title, a.Poster, a.Date.Format("2006-01-02"))
	}
	return nil
}

func doBoard(store *news.Store) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	posts, err := store.ListBoard(ctx)
	if err != nil {
		return err
	}
	for i, p := range posts {
		if i > 0 {
			fmt.Println("----")
		}
		fmt.Println(p)
	}
	return nil
}

func doPostBoard(store *news.Store) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return store.PostBoard(ctx, GConf.Post)
}

// doWatch stays connected, printing chat lines, server messages and user
// joins/leaves until the connection drops.
func doWatch(s *session.Session) error {
	pushes := s.Subscribe(wire.TranChatMsg, wire.TranServerMsg,
		wire.TranNotifyChangeUser, wire.TranNotifyDeleteUser)
	states := s.SubscribeState()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	users, err := s.Users(ctx)
	cancel()
	if err != nil {
		return err
	}
	for _, u := range users {
		fmt.Println("online:", u.Name)
	}

	for {
		select {
		case t := <-pushes:
			switch t.Type {
			case wire.TranChatMsg:
				fmt.Println(t.FieldString(wire.FieldData))
			case wire.TranServerMsg:
				fmt.Println("** server:", t.FieldString(wire.FieldData))
			case wire.TranNotifyChangeUser:
				fmt.Println("** joined/changed:", t.FieldString(wire.FieldUserName))
			case wire.TranNotifyDeleteUser:
				fmt.Println("** left, user id", firstUint16(t))
			}
		case st := <-states:
			if st == session.Disconnected || st == session.Failed {
				return nil
			}
		}
	}
}

func firstUint16(t *wire.Transaction) uint16 {
	v, _ := t.FieldUint16(wire.FieldUserID)
	return v
}
