package cache

type fakeItem struct {
	key         uint64
	dirty       bool
	allowUnload bool
	synced      int
}

func (f *fakeItem) CacheKey() uint64   { return f.key }
func (f *fakeItem) IsDirty() bool      { return f.dirty }
func (f *fakeItem) AllowUnload() bool  { return f.allowUnload }
func (f *fakeItem) Sync() error {
	f.synced++
	f.dirty = false
	return nil
}

func newFake(key uint64) *fakeItem {
	return &fakeItem{key: key, allowUnload: true}
}
