package intent

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildmat/buildmat/internal/delivery"
	"github.com/buildmat/buildmat/internal/masterdata/sites"
	"github.com/buildmat/buildmat/internal/notify"
	"github.com/buildmat/buildmat/internal/shared"
)

type memoryRepo struct {
	orders map[int64]*PurchaseOrder
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[int64]*PurchaseOrder)}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) Get(_ context.Context, id int64) (PurchaseOrder, error) {
	po, ok := m.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	clone := *po
	clone.Materials = append([]Material(nil), po.Materials...)
	return clone, nil
}

func (m *memoryRepo) List(_ context.Context, filters ListFilters) ([]PurchaseOrder, int, error) {
	var out []PurchaseOrder
	for _, po := range m.orders {
		if filters.SiteID != 0 && po.SiteID != filters.SiteID {
			continue
		}
		if filters.Status != "" && po.Status != filters.Status {
			continue
		}
		out = append(out, *po)
	}
	return out, len(out), nil
}

func (m *memoryRepo) CountNumbers(_ context.Context, prefix string) (int, error) {
	n := 0
	for _, po := range m.orders {
		if strings.HasPrefix(po.Number, prefix) {
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) Create(_ context.Context, po PurchaseOrder) (int64, error) {
	m.nextID++
	po.ID = m.nextID
	m.orders[po.ID] = &po
	return po.ID, nil
}

func (m *memoryRepo) InsertMaterial(_ context.Context, material Material) error {
	po, ok := m.orders[material.OrderID]
	if !ok {
		return ErrNotFound
	}
	material.ID = int64(len(po.Materials) + 1)
	po.Materials = append(po.Materials, material)
	return nil
}

func (m *memoryRepo) UpdateHeader(_ context.Context, po PurchaseOrder) error {
	existing, ok := m.orders[po.ID]
	if !ok {
		return ErrNotFound
	}
	existing.SiteID = po.SiteID
	existing.RequestedBy = po.RequestedBy
	existing.Remarks = po.Remarks
	existing.RequestDate = po.RequestDate
	return nil
}

func (m *memoryRepo) DeleteMaterials(_ context.Context, orderID int64) error {
	po, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	po.Materials = nil
	return nil
}

func (m *memoryRepo) UpdateStatus(_ context.Context, id int64, status Status) error {
	po, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	po.Status = status
	return nil
}

func (m *memoryRepo) InsertAttachment(_ context.Context, orderID int64, a Attachment) (int64, error) {
	po, ok := m.orders[orderID]
	if !ok {
		return 0, ErrNotFound
	}
	a.ID = int64(len(po.Attachments) + 1)
	po.Attachments = append(po.Attachments, a)
	return a.ID, nil
}

func (m *memoryRepo) DeleteAttachment(_ context.Context, orderID, attachmentID int64) (string, error) {
	po, ok := m.orders[orderID]
	if !ok {
		return "", ErrNotFound
	}
	for i, a := range po.Attachments {
		if a.ID == attachmentID {
			po.Attachments = append(po.Attachments[:i], po.Attachments[i+1:]...)
			return a.Key, nil
		}
	}
	return "", ErrNotFound
}

func (m *memoryRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.orders[id]; !ok {
		return ErrNotFound
	}
	delete(m.orders, id)
	return nil
}

type fakeScheduler struct {
	scheduled []delivery.CreateInput
	fail      bool
}

func (f *fakeScheduler) ScheduleFromOrigin(_ context.Context, input delivery.CreateInput) (int64, error) {
	if f.fail {
		return 0, errors.New("schedule failed")
	}
	f.scheduled = append(f.scheduled, input)
	return int64(len(f.scheduled)), nil
}

type fakeSiteDirectory struct{}

func (fakeSiteDirectory) Get(_ context.Context, id int64) (sites.Site, error) {
	if id == 99 {
		return sites.Site{}, sites.ErrNotFound
	}
	return sites.Site{ID: id, Code: "LNBNE", Name: "North Yard"}, nil
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
		SiteID:      1,
		RequestedBy: "Arif",
		Materials: []MaterialInput{
			{ItemName: "Cement 50kg", Category: "Civil", SubCategory: "Cement", Quantity: 40, UOM: "bag"},
			{ItemName: "Rebar 12mm", Category: "Civil", SubCategory: "Steel", Quantity: 200, UOM: "pcs"},
		},
	}
}

func TestCreateAssignsNumberAndPending(t *testing.T) {
	svc, _, _, notifier, _ := newTestService()

	po, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.Equal(t, StatusPending, po.Status)
	prefix := "PO" + time.Now().Format("20060102") + "-LNBNE-"
	require.True(t, strings.HasPrefix(po.Number, prefix), po.Number)
	require.Len(t, po.Materials, 2)
	require.Equal(t, []notify.Topic{notify.TopicIntentRefresh}, notifier.topics)

	second, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.NotEqual(t, po.Number, second.Number)
}

func TestCreateCollectsAllViolations(t *testing.T) {
	svc, _, _, notifier, _ := newTestService()

	input := CreateInput{Materials: []MaterialInput{{ItemName: "", Quantity: 0}}}
	_, err := svc.Create(context.Background(), input)
	require.ErrorIs(t, err, ErrValidation)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Fields, "site_id")
	require.Contains(t, vErr.Fields, "requested_by")
	require.Contains(t, vErr.Fields, "materials.0.item_name")
	require.Empty(t, notifier.topics)
}

func TestApproveSchedulesDeliveryAndFansOut(t *testing.T) {
	svc, _, scheduler, notifier, _ := newTestService()
	po, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	notifier.topics = nil

	require.NoError(t, svc.Approve(context.Background(), po.ID, "Dewi"))

	got, err := svc.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)

	require.Len(t, scheduler.scheduled, 1)
	staged := scheduler.scheduled[0]
	require.Equal(t, delivery.OriginPurchaseOrder, staged.Origin.Type)
	require.Equal(t, po.ID, staged.Origin.ID)
	require.Equal(t, po.Number, staged.Origin.Number)
	require.Len(t, staged.Items, 2)

	require.ElementsMatch(t, []notify.Topic{notify.TopicIntentRefresh, notify.TopicUpcomingDeliveryRefresh}, notifier.topics)
}

func TestApproveRequiresPending(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	po, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.NoError(t, svc.Approve(context.Background(), po.ID, "Dewi"))

	require.ErrorIs(t, svc.Approve(context.Background(), po.ID, "Dewi"), ErrInvalidState)
}

func TestApproveFailurePublishesNothing(t *testing.T) {
	svc, _, scheduler, notifier, _ := newTestService()
	po, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	notifier.topics = nil
	scheduler.fail = true

	require.Error(t, svc.Approve(context.Background(), po.ID, "Dewi"))
	require.Empty(t, notifier.topics)
}

func TestCancelBlockedOnTerminal(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	po, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), po.ID))

	require.ErrorIs(t, svc.Cancel(context.Background(), po.ID), ErrInvalidState)
}

func TestMarkTransferredIdempotent(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	po, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.NoError(t, svc.Approve(context.Background(), po.ID, "Dewi"))

	require.NoError(t, svc.MarkTransferred(context.Background(), po.ID))
	require.NoError(t, svc.MarkTransferred(context.Background(), po.ID))

	got, err := svc.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusTransferred, got.Status)
}

func TestMarkTransferredRejectsCancelled(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	po, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), po.ID))

	require.ErrorIs(t, svc.MarkTransferred(context.Background(), po.ID), ErrInvalidState)
}

func TestDeleteCascadesAttachments(t *testing.T) {
	svc, _, _, _, store := newTestService()
	po, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	_, err = svc.AddAttachment(context.Background(), po.ID, "quote.pdf", "application/pdf", 4, strings.NewReader("data"))
	require.NoError(t, err)
	require.Len(t, store.objects, 1)

	require.NoError(t, svc.Delete(context.Background(), po.ID))
	require.Empty(t, store.objects)
	_, err = svc.Get(context.Background(), po.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListBranchScopedSessionPinned(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	_, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	other := validInput()
	other.SiteID = 2
	_, err = svc.Create(context.Background(), other)
	require.NoError(t, err)

	sess := &shared.Session{Role: shared.RoleSupervisor, SiteID: 2}
	orders, total, err := svc.List(context.Background(), sess, ListFilters{SiteID: 1})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, orders, 1)
	require.EqualValues(t, 2, orders[0].SiteID)
	require.Len(t, repo.orders, 2)
}
