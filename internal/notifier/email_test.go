package notifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/monitor"
	"solwatch/lib/testutil"

	"github.com/go-resty/resty/v2"
	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestEmail(t *testing.T) {
	smtp := testutil.StartContainer(t, testcontainers.ContainerRequest{
		Image:        "haravich/fake-smtp-server",
		ExposedPorts: []string{"1025/tcp", "1080/tcp"},
		WaitingFor:   wait.ForLog("smtp://0.0.0.0:1025").WithStartupTimeout(time.Minute),
	})
	smtpHost, smtpPort, _ := strings.Cut(testutil.Endpoint(t, smtp, "1025/tcp"), ":")
	port, err := strconv.Atoi(smtpPort)
	if err != nil {
		t.Fatal(err)
	}

	e := NewEmail(EmailOptions{
		Server:  smtpHost,
		Port:    port,
		Address: "solwatch@email.com",
		To:      []string{"alice@email.com"},
	}, telemetry.NewRecorder())

	event := monitor.Event{
		ID:      "kol:pepe",
		Kind:    monitor.KindKOL,
		Payload: map[string]string{"name": "PEPE", "kol_count": "22"},
	}
	record, err := e.Notify(context.Background(), event)
	require.NoError(t, err)
	require.True(t, record.Delivered)

	res, err := resty.New().R().
		Get(fmt.Sprintf("http://%s/messages/1.plain", testutil.Endpoint(t, smtp, "1080/tcp")))
	if err != nil {
		t.Fatal(err)
	}
	require.Contains(t, res.String(), "NEW HIGH KOL TOKEN: PEPE")
}

func TestEmailUnreachable(t *testing.T) {
	e := NewEmail(EmailOptions{
		Server:  "127.0.0.1",
		Port:    1,
		Address: "solwatch@email.com",
		To:      []string{"alice@email.com"},
		Timeout: 500 * time.Millisecond,
	}, telemetry.NewRecorder())

	record, err := e.Notify(context.Background(), testEvent)
	require.Error(t, err)
	require.False(t, record.Delivered)
	require.NotEmpty(t, record.LastError)
}

// silentSMTP accepts connections and never sends the greeting.
func silentSMTP(t *testing.T) (string, int) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	conns := make(chan net.Conn, 16)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conns <- conn
		}
	}()
	t.Cleanup(func() {
		l.Close()
		for {
			select {
			case conn := <-conns:
				conn.Close()
			default:
				return
			}
		}
	})

	addr := l.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestEmailStalledServer(t *testing.T) {
	host, port := silentSMTP(t)
	rec := telemetry.NewRecorder()
	e := NewEmail(EmailOptions{
		Server:  host,
		Port:    port,
		Address: "solwatch@email.com",
		To:      []string{"alice@email.com"},
		Timeout: 200 * time.Millisecond,
	}, rec)

	start := time.Now()
	record, err := e.Notify(context.Background(), testEvent)
	require.Less(t, time.Since(start), 5*time.Second)

	require.True(t, errors.Is(err, email.ErrTimeout))
	var notifyErr *monitor.NotifyError
	require.True(t, errors.As(err, &notifyErr))
	require.Equal(t, monitor.ExhaustedRetries, notifyErr.Kind)
	require.False(t, record.Delivered)
	require.Len(t, rec.Reports("warning", report_email_notify), 1)
}

func TestEmailStalledServerContextDeadline(t *testing.T) {
	host, port := silentSMTP(t)
	e := NewEmail(EmailOptions{
		Server:  host,
		Port:    port,
		Address: "solwatch@email.com",
		To:      []string{"alice@email.com"},
	}, telemetry.NewRecorder())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Notify(ctx, testEvent)
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)

	<-ctx.Done()
	_, err = e.Notify(ctx, testEvent)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestEmailTimeout(t *testing.T) {
	e := NewEmail(EmailOptions{}, telemetry.NewRecorder())
	require.Equal(t, 8*time.Second, e.timeout(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.LessOrEqual(t, e.timeout(ctx), time.Second)
}

func TestSubject(t *testing.T) {
	require.Equal(t, "High volume: PEPE", subject(monitor.Event{
		Kind:    monitor.KindVolume,
		Payload: map[string]string{"token": "PEPE"},
	}))
	require.Equal(t, "New transaction: sig", subject(monitor.Event{ID: "sig", Kind: monitor.KindTransaction}))
}
