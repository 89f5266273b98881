package transfer

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildmat/buildmat/internal/delivery"
	"github.com/buildmat/buildmat/internal/masterdata/sites"
	"github.com/buildmat/buildmat/internal/notify"
	"github.com/buildmat/buildmat/internal/shared"
)

type memoryRepo struct {
	transfers map[int64]*SiteTransfer
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{transfers: make(map[int64]*SiteTransfer)}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) Get(_ context.Context, id int64) (SiteTransfer, error) {
	st, ok := m.transfers[id]
	if !ok {
		return SiteTransfer{}, ErrNotFound
	}
	clone := *st
	clone.Materials = append([]Material(nil), st.Materials...)
	return clone, nil
}

func (m *memoryRepo) List(_ context.Context, filters ListFilters) ([]SiteTransfer, int, error) {
	var out []SiteTransfer
	for _, st := range m.transfers {
		if filters.SiteID != 0 && st.FromSiteID != filters.SiteID && st.ToSiteID != filters.SiteID {
			continue
		}
		out = append(out, *st)
	}
	return out, len(out), nil
}

func (m *memoryRepo) CountNumbers(_ context.Context, prefix string) (int, error) {
	n := 0
	for _, st := range m.transfers {
		if strings.HasPrefix(st.Number, prefix) {
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) Create(_ context.Context, st SiteTransfer) (int64, error) {
	m.nextID++
	st.ID = m.nextID
	m.transfers[st.ID] = &st
	return st.ID, nil
}

func (m *memoryRepo) InsertMaterial(_ context.Context, material Material) error {
	st, ok := m.transfers[material.TransferID]
	if !ok {
		return ErrNotFound
	}
	material.ID = int64(len(st.Materials) + 1)
	st.Materials = append(st.Materials, material)
	return nil
}

func (m *memoryRepo) UpdateHeader(_ context.Context, st SiteTransfer) error {
	existing, ok := m.transfers[st.ID]
	if !ok {
		return ErrNotFound
	}
	existing.FromSiteID = st.FromSiteID
	existing.ToSiteID = st.ToSiteID
	existing.RequestedBy = st.RequestedBy
	existing.Remarks = st.Remarks
	existing.RequestDate = st.RequestDate
	return nil
}

func (m *memoryRepo) DeleteMaterials(_ context.Context, transferID int64) error {
	st, ok := m.transfers[transferID]
	if !ok {
		return ErrNotFound
	}
	st.Materials = nil
	return nil
}

func (m *memoryRepo) UpdateStatus(_ context.Context, id int64, status Status) error {
	st, ok := m.transfers[id]
	if !ok {
		return ErrNotFound
	}
	st.Status = status
	return nil
}

func (m *memoryRepo) InsertAttachment(_ context.Context, transferID int64, a Attachment) (int64, error) {
	st, ok := m.transfers[transferID]
	if !ok {
		return 0, ErrNotFound
	}
	a.ID = int64(len(st.Attachments) + 1)
	st.Attachments = append(st.Attachments, a)
	return a.ID, nil
}

func (m *memoryRepo) DeleteAttachment(_ context.Context, transferID, attachmentID int64) (string, error) {
	st, ok := m.transfers[transferID]
	if !ok {
		return "", ErrNotFound
	}
	for i, a := range st.Attachments {
		if a.ID == attachmentID {
			st.Attachments = append(st.Attachments[:i], st.Attachments[i+1:]...)
			return a.Key, nil
		}
	}
	return "", ErrNotFound
}

func (m *memoryRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.transfers[id]; !ok {
		return ErrNotFound
	}
	delete(m.transfers, id)
	return nil
}

func (m *memoryRepo) DeleteAll(_ context.Context) ([]int64, error) {
	var ids []int64
	for id := range m.transfers {
		ids = append(ids, id)
	}
	m.transfers = make(map[int64]*SiteTransfer)
	return ids, nil
}

type fakeScheduler struct {
	scheduled []delivery.CreateInput
}

func (f *fakeScheduler) ScheduleFromOrigin(_ context.Context, input delivery.CreateInput) (int64, error) {
	f.scheduled = append(f.scheduled, input)
	return int64(len(f.scheduled)), nil
}

type fakeSiteDirectory struct{}

func (fakeSiteDirectory) Get(_ context.Context, id int64) (sites.Site, error) {
	names := map[int64]string{1: "North Yard", 2: "Dockside", 3: "Hillcrest"}
	name, ok := names[id]
	if !ok {
		return sites.Site{}, sites.ErrNotFound
	}
	return sites.Site{ID: id, Code: "S" + strings.Repeat("X", int(id)), Name: name}, nil
}

type recordingNotifier struct {
	topics []notify.Topic
}

func (n *recordingNotifier) Publish(_ context.Context, topics ...notify.Topic) {
	n.topics = append(n.topics, topics...)
}

type fakeStore struct {
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStore) Remove(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) RemovePrefix(_ context.Context, prefix string) error {
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			delete(f.objects, key)
		}
	}
	return nil
}

func newTestService() (*Service, *memoryRepo, *fakeScheduler, *recordingNotifier, *fakeStore) {
	repo := newMemoryRepo()
	scheduler := &fakeScheduler{}
	notifier := &recordingNotifier{}
	store := newFakeStore()
	svc := NewService(repo, scheduler, fakeSiteDirectory{}, notifier, store, nil)
	return svc, repo, scheduler, notifier, store
}

func validInput() CreateInput {
	return CreateInput{
		FromSiteID:  1,
		ToSiteID:    2,
		RequestedBy: "Budi",
		Materials: []MaterialInput{
			{ItemName: "Scaffolding frame", Category: "Equipment", Quantity: 12, UOM: "set"},
		},
	}
}

func TestCreateRejectsSameSite(t *testing.T) {
	svc, _, _, notifier, _ := newTestService()

	input := validInput()
	input.ToSiteID = input.FromSiteID
	_, err := svc.Create(context.Background(), input)
	require.ErrorIs(t, err, ErrValidation)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Fields, "to_site_id")
	require.Empty(t, notifier.topics)
}

func TestCreatePublishesTransferRefresh(t *testing.T) {
	svc, _, _, notifier, _ := newTestService()

	st, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.Equal(t, StatusPending, st.Status)
	require.Equal(t, "North Yard", st.FromSiteName)
	require.Equal(t, "Dockside", st.ToSiteName)
	require.Equal(t, []notify.Topic{notify.TopicSiteTransferRefresh}, notifier.topics)
}

func TestApproveStagesDeliveryWithBothSites(t *testing.T) {
	svc, _, scheduler, notifier, _ := newTestService()
	st, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	notifier.topics = nil

	require.NoError(t, svc.Approve(context.Background(), st.ID, "Dewi"))

	require.Len(t, scheduler.scheduled, 1)
	staged := scheduler.scheduled[0]
	require.Equal(t, delivery.OriginSiteTransfer, staged.Origin.Type)
	require.Equal(t, st.ID, staged.Origin.ID)
	require.EqualValues(t, 1, staged.FromSiteID)
	require.EqualValues(t, 2, staged.ToSiteID)

	require.ElementsMatch(t, []notify.Topic{notify.TopicSiteTransferRefresh, notify.TopicUpcomingDeliveryRefresh}, notifier.topics)
}

func TestDeleteAllCascadesAttachments(t *testing.T) {
	svc, repo, _, _, store := newTestService()
	first, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	second := validInput()
	second.FromSiteID, second.ToSiteID = 2, 3
	_, err = svc.Create(context.Background(), second)
	require.NoError(t, err)

	_, err = svc.AddAttachment(context.Background(), first.ID, "manifest.pdf", "application/pdf", 4, strings.NewReader("data"))
	require.NoError(t, err)
	require.Len(t, store.objects, 1)

	count, err := svc.DeleteAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Empty(t, repo.transfers)
	require.Empty(t, store.objects)
}

func TestListScopesToEitherEnd(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	_, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	second := validInput()
	second.FromSiteID, second.ToSiteID = 2, 3
	_, err = svc.Create(context.Background(), second)
	require.NoError(t, err)

	sess := &shared.Session{Role: shared.RoleSupervisor, SiteID: 2}
	transfers, total, err := svc.List(context.Background(), sess, ListFilters{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, transfers, 2)

	sess.SiteID = 3
	transfers, total, err = svc.List(context.Background(), sess, ListFilters{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, transfers, 1)
}

func TestMarkTransferredIdempotent(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	st, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.NoError(t, svc.Approve(context.Background(), st.ID, "Dewi"))

	require.NoError(t, svc.MarkTransferred(context.Background(), st.ID))
	require.NoError(t, svc.MarkTransferred(context.Background(), st.ID))

	got, err := svc.Get(context.Background(), st.ID)
	require.NoError(t, err)
	require.Equal(t, StatusTransferred, got.Status)
}
