package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// JobStatus is the canonical lifecycle state of a pickup job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusAvailable  JobStatus = "available"
	StatusAccepted   JobStatus = "accepted"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusCancelled  JobStatus = "cancelled"
	StatusRejected   JobStatus = "rejected"
)

// PriceBreakdown is computed once at job creation and never changes.
// Amounts are dollars rounded to cents.
type PriceBreakdown struct {
	BaseFee      float64 `json:"baseFee"`
	ServiceFee   float64 `json:"serviceFee"`
	DisposalFee  float64 `json:"disposalFee"`
	Total        float64 `json:"total"`
	WorkerPayout float64 `json:"workerPayout"`
}

// Job is one pickup request. WorkerID is empty until a worker wins the
// acceptance race; it is non-empty exactly when the status is accepted,
// in_progress, or completed.
type Job struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customerId"`
	WorkerID       string          `json:"workerId,omitempty"`
	Status         JobStatus       `json:"status"`
	WasteType      string          `json:"wasteType"`
	VolumeOptionID string          `json:"volumeOptionId"`
	BagSizeID      string          `json:"bagSizeId"`
	Pickup         Coord           `json:"pickupCoordinates"`
	Pricing        *PriceBreakdown `json:"pricing,omitempty"`
	IsASAP         bool            `json:"isASAP"`
	ScheduledAt    *time.Time      `json:"scheduledAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	AssignedAt     *time.Time      `json:"assignedAt,omitempty"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

// Assigned reports whether the job has an exclusive worker.
func (j *Job) Assigned() bool { return j.WorkerID != "" }

// Terminal reports whether the job can no longer change status.
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Clone returns a deep copy so callers can't mutate store-owned records.
func (j *Job) Clone() *Job {
	c := *j
	if j.Pricing != nil {
		p := *j.Pricing
		c.Pricing = &p
	}
	c.ScheduledAt = copyTime(j.ScheduledAt)
	c.AssignedAt = copyTime(j.AssignedAt)
	c.StartedAt = copyTime(j.StartedAt)
	c.CompletedAt = copyTime(j.CompletedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Performance accumulates a worker's lifetime stats.
type Performance struct {
	CompletedJobs int     `json:"completedJobs"`
	AverageRating float64 `json:"averageRating"`
	TotalPayout   float64 `json:"totalPayout"`
}

// Worker is a mobile pickup agent. Loc and Updated are written only by the
// worker's own location-reporting path.
type Worker struct {
	ID            string      `json:"id"`
	Online        bool        `json:"online"`
	Loc           Coord       `json:"loc"`
	Updated       time.Time   `json:"updated"`
	PayoutAccount string      `json:"payoutAccount,omitempty"`
	Performance   Performance `json:"performance"`
}

// Fix is one live location sample from a worker's device.
type Fix struct {
	WorkerID string    `json:"worker_id"`
	Loc      Coord     `json:"loc"`
	At       time.Time `json:"at"`
}

// OfferState is the state of one per-(job, worker) offer session.
type OfferState string

const (
	OfferOffered  OfferState = "offered"
	OfferAccepted OfferState = "accepted"
	OfferDeclined OfferState = "declined"
	OfferExpired  OfferState = "expired"
)

// DeclineReason records why an offer session ended in Declined.
type DeclineReason string

const (
	DeclineByWorker DeclineReason = "worker_declined"
	DeclineClaimed  DeclineReason = "job_already_claimed"
	DeclineOffline  DeclineReason = "worker_offline"
	DeclineJobGone  DeclineReason = "job_cancelled"
)

// Offer is the payload pushed to a candidate worker when a job is broadcast.
type Offer struct {
	JobID        string    `json:"job_id"`
	WasteType    string    `json:"waste_type"`
	Pickup       Coord     `json:"pickup"`
	DistanceMi   float64   `json:"distance_miles"`
	WorkerPayout float64   `json:"worker_payout"`
	ExpiresAt    time.Time `json:"expires_at"`
}
