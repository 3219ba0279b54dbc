package reboot

import (
	"os"
	"strconv"
	"strings"

	"github.com/memfault/memfaultd-go/internal/asa"
	"github.com/memfault/memfaultd-go/internal/config"
	"github.com/memfault/memfaultd-go/internal/logging"
	"github.com/memfault/memfaultd-go/pkg/agenterrors"
)

// ServiceState is the subset of service-manager lifecycle states the
// tracker cares about: whether the agent is in the middle of a clean
// shutdown, so a reboot that follows can be attributed to UserReset.
type ServiceState int

const (
	ServiceUnknown ServiceState = iota
	ServiceRunning
	ServiceStopping
)

// Tracker owns the last-tracked boot-id file and the three reason sources,
// and stages a linux-reboot artifact the first time it sees a new boot-id.
type Tracker struct {
	cfg         config.RebootConfig
	sources     []source
	stagingRoot string
	identity    Identity
	readBootID  func() (string, error)
	onArtifact  func(asa.Entry)
	log         *logging.Logger
}

// Identity carries the device/producer fields a staged linux-reboot
// artifact's manifest needs.
type Identity struct {
	Device   asa.DeviceIdentity
	Producer asa.ProducerIdentity
}

// New builds a Tracker using the default reason-source priority order.
// readBootID defaults to asa.ReadLinuxBootID when nil.
func New(cfg config.RebootConfig, stagingRoot string, identity Identity, readBootID func() (string, error), onArtifact func(asa.Entry), log *logging.Logger) *Tracker {
	if readBootID == nil {
		readBootID = asa.ReadLinuxBootID
	}
	return &Tracker{
		cfg:         cfg,
		sources:     defaultSources(cfg, log),
		stagingRoot: stagingRoot,
		identity:    identity,
		readBootID:  readBootID,
		onArtifact:  onArtifact,
		log:         log,
	}
}

// TrackReboot compares the current boot-id against the last one this
// tracker saw. A match is a no-op. A change resolves a reason across the
// configured sources and stages a linux-reboot artifact for it. When
// enableDataCollection is false, pstore is still drained (so a panic
// doesn't pile up ramoops across many boots before collection is turned
// on) but nothing is staged.
func (t *Tracker) TrackReboot(enableDataCollection bool) error {
	bootID, err := t.readBootID()
	if err != nil {
		return agenterrors.New(agenterrors.CodeInternal, "failed to read current boot id").
			WithComponent("reboot").WithOperation("Tracker.TrackReboot").WithCause(err)
	}

	if !enableDataCollection {
		t.checkBootIDTracked(bootID)
		readPstoreReason(t.cfg.PstoreDir, t.log)
		return nil
	}

	if t.checkBootIDTracked(bootID) {
		return nil
	}

	reason := t.resolveReason(bootID)

	b, err := asa.NewBuilder(t.stagingRoot)
	if err != nil {
		return err
	}
	defer b.Discard()

	b.SetMetadata(asa.Metadata{
		Kind: asa.KindLinuxReboot,
		LinuxReboot: &asa.LinuxRebootPayload{
			Reason:     reason.String(),
			LastBootID: bootID,
		},
	})

	entry, err := b.Save(t.identity.Device, t.identity.Producer)
	if err != nil {
		return agenterrors.New(agenterrors.CodeInternal, "failed to stage linux-reboot artifact").
			WithComponent("reboot").WithOperation("Tracker.TrackReboot").WithCause(err)
	}

	if t.onArtifact != nil {
		t.onArtifact(entry)
	}
	return nil
}

// checkBootIDTracked compares bootID against the persisted last-tracked
// value and then overwrites it with bootID, regardless of the outcome, so
// every future boot is compared against this one.
func (t *Tracker) checkBootIDTracked(bootID string) bool {
	last, hadLast := readLastBootID(t.cfg.LastBootIDFile)
	if !hadLast && t.log != nil {
		t.log.Warn("no last tracked boot id found", nil)
	}

	if err := os.WriteFile(t.cfg.LastBootIDFile, []byte(bootID), 0o600); err != nil && t.log != nil {
		t.log.Error("failed to persist last tracked boot id", map[string]interface{}{"cause": err.Error()})
	}

	return hadLast && last == bootID
}

func readLastBootID(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// resolveReason tries every source in priority order; the first verdict
// wins and every subsequent verdict is logged as discarded.
func (t *Tracker) resolveReason(bootID string) Reason {
	var resolved Reason
	found := false

	for _, src := range t.sources {
		reason, ok := src.read()
		if !ok {
			continue
		}
		if found {
			if t.log != nil {
				t.log.Info("discarded reboot reason", map[string]interface{}{
					"reason": reason.String(), "source": src.name, "boot_id": bootID,
				})
			}
			continue
		}
		resolved = reason
		found = true
		if t.log != nil {
			t.log.Info("using reboot reason", map[string]interface{}{
				"reason": reason.String(), "source": src.name, "boot_id": bootID,
			})
		}
	}

	if !found {
		return ReasonUnknown
	}
	return resolved
}

// OnServiceStateChange persists ReasonUserReset to the internal reason
// file when the service manager reports it is stopping cleanly, so the
// next boot's TrackReboot attributes the transition correctly. Any other
// state is a no-op.
func (t *Tracker) OnServiceStateChange(state ServiceState) error {
	if state != ServiceStopping {
		return nil
	}
	if t.cfg.InternalReasonFile == "" {
		return nil
	}
	data := []byte(strconv.Itoa(int(ReasonUserReset)))
	if err := os.WriteFile(t.cfg.InternalReasonFile, data, 0o600); err != nil {
		return agenterrors.New(agenterrors.CodeInternal, "failed to persist reboot reason on shutdown").
			WithComponent("reboot").WithOperation("Tracker.OnServiceStateChange").WithCause(err)
	}
	return nil
}
