package cli

import (
	"bufio"
	"context"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/client"
	"github.com/YasiruR/walletconnect-prober/core/chat"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type runner struct {
	ctx       context.Context
	client    *client.Client
	reader    *bufio.Reader
	mu        *sync.Mutex
	proposals []models.SessionProposal
	disCmds   uint64 // flag to identify whether output cursor is on basic commands or not
}

// Init runs the interactive agent until the exit command or ctx is done
func Init(ctx context.Context, c *client.Client) error {
	clientID, err := c.Auth.ClientID()
	if err != nil {
		return err
	}
	fmt.Printf("-> Agent initialized with following attributes: \n\t- Name: %s\n\t- Relay: %s\n\t- Client ID: %s\n", c.Cfg.Name, c.Cfg.RelayHost, clientID)

	r := &runner{ctx: ctx, client: c, reader: bufio.NewReader(os.Stdin), mu: &sync.Mutex{}}
	events, cancel := c.Events()
	defer cancel()
	go r.listen(events)

	exited := make(chan struct{})
	go func() {
		r.basicCommands()
		close(exited)
	}()

	select {
	case <-exited:
	case <-ctx.Done():
	}
	return nil
}

func (r *runner) basicCommands() {
	for {
		fmt.Printf("\n-> Enter the corresponding number of a command to proceed;\n" +
			"\t[1] Create pairing and propose session\n\t[2] Pair with URI\n\t[3] Approve a proposal\n\t[4] Reject a proposal\n" +
			"\t[5] List sessions\n\t[6] Update session accounts\n\t[7] Extend session\n\t[8] Ping session\n\t[9] Delete session\n" +
			"\t[10] Register chat account\n\t[11] Invite to chat\n\t[12] Accept chat invite\n\t[13] Send chat message\n\t[14] Exit\n   Command: ")
		atomic.StoreUint64(&r.disCmds, 1)

		cmd, err := r.reader.ReadString('\n')
		if err != nil {
			fmt.Println("   Error: reading command number failed")
			return
		}
		atomic.StoreUint64(&r.disCmds, 0)

		switch strings.TrimSpace(cmd) {
		case "1":
			r.propose()
		case "2":
			r.pair()
		case "3":
			r.approve()
		case "4":
			r.reject()
		case "5":
			r.listSessions()
		case "6":
			r.updateAccounts()
		case "7":
			r.extend()
		case "8":
			r.ping()
		case "9":
			r.deleteSession()
		case "10":
			r.register()
		case "11":
			r.invite()
		case "12":
			r.acceptInvite()
		case "13":
			r.sendMessage()
		case "14":
			fmt.Println("-> Exiting")
			return
		default:
			fmt.Println("   Error: invalid command number, please try again")
		}
	}
}

func (r *runner) propose() {
	chains := r.readSet(`Blockchains (comma separated, eg: eip155:1)`)
	methods := r.readSet(`Methods (comma separated, eg: eth_sign)`)
	events := r.readSet(`Events (comma separated, eg: accountsChanged)`)

	uri, err := r.client.Propose(r.ctx, models.SessionPermissions{Methods: methods, Events: events}, chains, ``)
	if err != nil {
		fmt.Printf("   Error: proposing session failed - %v\n", err)
		return
	}
	fmt.Printf("-> Pairing URI: %s\n", uri.String())
}

func (r *runner) pair() {
	rawURI := r.readLine(`Provide pairing URI`)
	if err := r.client.Pair(r.ctx, rawURI); err != nil {
		fmt.Printf("   Error: pairing failed - %v\n", err)
		return
	}
	fmt.Println("-> Paired, waiting for proposals")
}

func (r *runner) approve() {
	proposal, ok := r.takeProposal()
	if !ok {
		return
	}

	accounts := r.readSet(`Accounts (comma separated, eg: eip155:1:0xab16...)`)
	session, err := r.client.Approve(r.ctx, proposal, accounts)
	if err != nil {
		fmt.Printf("   Error: approving proposal failed - %v\n", err)
		return
	}
	fmt.Printf("-> Session settled on topic %s\n", session.Topic)
}

func (r *runner) reject() {
	proposal, ok := r.takeProposal()
	if !ok {
		return
	}

	if err := r.client.Reject(r.ctx, proposal, domain.ReasonUserRejected); err != nil {
		fmt.Printf("   Error: rejecting proposal failed - %v\n", err)
		return
	}
	fmt.Println("-> Proposal rejected")
}

func (r *runner) listSessions() {
	sessions, err := r.client.Sessions()
	if err != nil {
		fmt.Printf("   Error: reading sessions failed - %v\n", err)
		return
	}

	if len(sessions) == 0 {
		fmt.Println("-> No sessions")
		return
	}

	for _, s := range sessions {
		fmt.Printf("-> %s\n\t- Peer: %s\n\t- Controller: %t\n\t- Acknowledged: %t\n\t- Accounts: %s\n\t- Expiry: %s\n",
			s.Topic, s.Peer.Metadata.Name, s.SelfIsController, s.Acknowledged, strings.Join(s.Accounts.Slice(), `, `), s.Expiry.Format(time.RFC3339))
	}
}

func (r *runner) updateAccounts() {
	topic := r.readLine(`Session topic`)
	accounts := r.readSet(`Accounts (comma separated)`)
	if err := r.client.UpdateAccounts(r.ctx, topic, accounts); err != nil {
		fmt.Printf("   Error: updating accounts failed - %v\n", err)
		return
	}
	fmt.Println("-> Accounts update sent")
}

func (r *runner) extend() {
	topic := r.readLine(`Session topic`)
readTTL:
	raw := r.readLine(`New ttl (eg: 72h)`)
	if raw == `` {
		return
	}

	ttl, err := time.ParseDuration(raw)
	if err != nil {
		fmt.Println("   Error: invalid duration, please try again")
		goto readTTL
	}

	if err = r.client.UpdateExpiry(r.ctx, topic, ttl); err != nil {
		fmt.Printf("   Error: extending session failed - %v\n", err)
		return
	}
	fmt.Println("-> Expiry update sent")
}

func (r *runner) ping() {
	if err := r.client.PingSession(r.ctx, r.readLine(`Session topic`)); err != nil {
		fmt.Printf("   Error: ping failed - %v\n", err)
	}
}

func (r *runner) deleteSession() {
	if err := r.client.DeleteSession(r.ctx, r.readLine(`Session topic`), domain.ReasonUserDisconnected); err != nil {
		fmt.Printf("   Error: deleting session failed - %v\n", err)
		return
	}
	fmt.Println("-> Session deleted")
}

func (r *runner) register() {
	key, err := r.client.Register(r.ctx, r.readLine(`Account`))
	if err != nil {
		fmt.Printf("   Error: registering account failed - %v\n", err)
		return
	}
	fmt.Printf("-> Invite key: %s\n", key)
}

func (r *runner) invite() {
	params := chat.InviteParams{
		Account:        r.readLine(`Your account`),
		PeerAccount:    r.readLine(`Peer account`),
		PeerPubKey:     r.readLine(`Peer invite key`),
		OpeningMessage: r.readLine(`Opening message`),
	}

	if err := r.client.Invite(r.ctx, params); err != nil {
		fmt.Printf("   Error: sending invite failed - %v\n", err)
		return
	}
	fmt.Println("-> Invite sent")
}

func (r *runner) acceptInvite() {
	invites, err := r.client.Invites()
	if err != nil {
		fmt.Printf("   Error: reading invites failed - %v\n", err)
		return
	}

	if len(invites) == 0 {
		fmt.Println("-> No pending invites")
		return
	}

	for i, inv := range invites {
		fmt.Printf("\t[%d] %s: %s\n", i+1, inv.Account, inv.OpeningMessage)
	}

	i, ok := r.readIndex(len(invites))
	if !ok {
		return
	}

	topic, err := r.client.AcceptInvite(r.ctx, invites[i].ID)
	if err != nil {
		fmt.Printf("   Error: accepting invite failed - %v\n", err)
		return
	}
	fmt.Printf("-> Chat thread created on topic %s\n", topic)
}

func (r *runner) sendMessage() {
	threads, err := r.client.Threads()
	if err != nil {
		fmt.Printf("   Error: reading threads failed - %v\n", err)
		return
	}

	if len(threads) == 0 {
		fmt.Println("-> No chat threads")
		return
	}

	for i, th := range threads {
		fmt.Printf("\t[%d] %s\n", i+1, th.PeerAccount)
	}

	i, ok := r.readIndex(len(threads))
	if !ok {
		return
	}

	if err = r.client.SendMessage(r.ctx, threads[i].Topic, r.readLine(`Message`)); err != nil {
		fmt.Printf("   Error: sending message failed - %v\n", err)
		return
	}
	fmt.Println("-> Message sent")
}

func (r *runner) takeProposal() (models.SessionProposal, bool) {
	r.mu.Lock()
	pending := append([]models.SessionProposal{}, r.proposals...)
	r.mu.Unlock()

	if len(pending) == 0 {
		fmt.Println("-> No pending proposals")
		return models.SessionProposal{}, false
	}

	for i, p := range pending {
		fmt.Printf("\t[%d] %s (%s)\n", i+1, p.Proposer.Metadata.Name, strings.Join(p.Blockchains.Slice(), `, `))
	}

	i, ok := r.readIndex(len(pending))
	if !ok {
		return models.SessionProposal{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for j, p := range r.proposals {
		if p.Proposer.PublicKey == pending[i].Proposer.PublicKey {
			r.proposals = append(r.proposals[:j], r.proposals[j+1:]...)
			break
		}
	}
	return pending[i], true
}

func (r *runner) readIndex(size int) (int, bool) {
	i, err := strconv.Atoi(r.readLine(`Select number`))
	if err != nil || i < 1 || i > size {
		fmt.Println("   Error: invalid selection")
		return 0, false
	}
	return i - 1, true
}

func (r *runner) readLine(prompt string) string {
	fmt.Printf("-> %s: ", prompt)
	text, err := r.reader.ReadString('\n')
	if err != nil {
		fmt.Println("   Error: reading input failed")
	}
	return strings.TrimSpace(text)
}

func (r *runner) readSet(prompt string) models.Set {
	var vals []string
	for _, v := range strings.Split(r.readLine(prompt), `,`) {
		if v = strings.TrimSpace(v); v != `` {
			vals = append(vals, v)
		}
	}
	return models.NewSet(vals...)
}

func (r *runner) listen(events <-chan models.Event) {
	for ev := range events {
		if atomic.LoadUint64(&r.disCmds) == 1 {
			atomic.StoreUint64(&r.disCmds, 0)
			fmt.Println()
		}

		switch ev.Type {
		case models.EventSessionProposal:
			r.mu.Lock()
			r.proposals = append(r.proposals, *ev.Proposal)
			r.mu.Unlock()
			fmt.Printf("-> Session proposal received from %s\n", ev.Proposal.Proposer.Metadata.Name)
		case models.EventChatInvite:
			fmt.Printf("-> Chat invite received from %s: %s\n", ev.Invite.Account, ev.Invite.OpeningMessage)
		case models.EventChatMessage:
			fmt.Printf("-> Message received from %s: %s\n", ev.Message.Author, ev.Message.Message)
		default:
			if ev.Reason != nil {
				fmt.Printf("-> Event %s on %s - %s\n", ev.Type, ev.Topic, ev.Reason.Error())
				continue
			}
			fmt.Printf("-> Event %s on %s\n", ev.Type, ev.Topic)
		}
	}
}
