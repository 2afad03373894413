package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Repository defines read-through access to clinic reference data.
type Repository interface {
	ListClinics(ctx context.Context) ([]*Clinic, error)
	GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error)
	ListServices(ctx context.Context, clinicID uuid.UUID, activeOnly bool) ([]*Service, error)
	GetService(ctx context.Context, id uuid.UUID) (*Service, error)
	// ListDoctors filters by clinic, optionally by active flag and by the
	// service they perform. serviceID == uuid.Nil disables the service filter.
	ListDoctors(ctx context.Context, clinicID uuid.UUID, activeOnly bool, serviceID uuid.UUID) ([]*Doctor, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
}

// InMemoryRepository is a seedable Repository used in tests and DB-less boot.
type InMemoryRepository struct {
	mu             sync.RWMutex
	clinics        map[uuid.UUID]*Clinic
	services       map[uuid.UUID]*Service
	doctors        map[uuid.UUID]*Doctor
	doctorServices map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		clinics:        make(map[uuid.UUID]*Clinic),
		services:       make(map[uuid.UUID]*Service),
		doctors:        make(map[uuid.UUID]*Doctor),
		doctorServices: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// AddClinic seeds a clinic.
func (r *InMemoryRepository) AddClinic(c *Clinic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clinics[c.ID] = c
}

// AddService seeds a service.
func (r *InMemoryRepository) AddService(s *Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.ID] = s
}

// AddDoctor seeds a doctor.
func (r *InMemoryRepository) AddDoctor(d *Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctors[d.ID] = d
}

// LinkDoctorService records that a doctor performs a service.
func (r *InMemoryRepository) LinkDoctorService(doctorID, serviceID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.doctorServices[doctorID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		r.doctorServices[doctorID] = set
	}
	set[serviceID] = struct{}{}
}

func (r *InMemoryRepository) ListClinics(ctx context.Context) ([]*Clinic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Clinic, 0, len(r.clinics))
	for _, c := range r.clinics {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *InMemoryRepository) GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clinics[id]
	if !ok {
		return nil, ErrClinicNotFound
	}
	return c, nil
}

func (r *InMemoryRepository) ListServices(ctx context.Context, clinicID uuid.UUID, activeOnly bool) ([]*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Service, 0)
	for _, s := range r.services {
		if s.ClinicID != clinicID {
			continue
		}
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *InMemoryRepository) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return s, nil
}

func (r *InMemoryRepository) ListDoctors(ctx context.Context, clinicID uuid.UUID, activeOnly bool, serviceID uuid.UUID) ([]*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Doctor, 0)
	for _, d := range r.doctors {
		if d.ClinicID != clinicID {
			continue
		}
		if activeOnly && !d.Active {
			continue
		}
		if serviceID != uuid.Nil {
			if _, ok := r.doctorServices[d.ID][serviceID]; !ok {
				continue
			}
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *InMemoryRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return d, nil
}
