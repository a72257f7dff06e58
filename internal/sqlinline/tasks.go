package sqlinline

const QEnqueueTask = `--sql 1c2c9a3e-52fb-4c47-9d6a-07e3a2d4b851
insert into transform_tasks (id, job_id, status, attempts, max_attempts, next_attempt_at, created_at, updated_at)
values (gen_random_uuid(), $1::text, 'queued', 0, $2::int, now(), now(), now());
`

// A claimed row that is still 'running' past the lease belongs to a consumer
// that died mid-delivery; it is reclaimed like a queued row so delivery
// stays at-least-once under crashes. The attempt counter is persisted by the
// claim itself, so a crashed attempt still spends the budget.
const QClaimTask = `--sql 7b4f8f21-93d4-4c0b-8f6e-2a1d9c5e4f72
with next_task as (
    select id
    from transform_tasks
    where (status = 'queued' and next_attempt_at <= now())
       or (status = 'running' and updated_at < now() - ($1::int * interval '1 second'))
    order by created_at asc
    for update skip locked
    limit 1
),
updated as (
    update transform_tasks
    set status = 'running', attempts = attempts + 1, updated_at = now()
    where id in (select id from next_task)
    returning id, job_id, attempts, max_attempts
)
select * from updated;
`

const QCompleteTask = `--sql 9e6a1d58-7c3b-4b9f-a2e4-5f8d0c7b3a16
update transform_tasks
set status = 'done', updated_at = now()
where id = $1::uuid;
`

const QRetryTask = `--sql 3f7d2b94-1e8a-4d5c-b6f0-8c4a9e2d7f35
update transform_tasks
set status = 'queued',
    next_attempt_at = now() + ($2::int * interval '1 second'),
    updated_at = now()
where id = $1::uuid;
`

const QBuryTask = `--sql b5e9c4a7-6d2f-4a81-93c5-0f7b8d1e6a42
update transform_tasks
set status = 'dead', updated_at = now()
where id = $1::uuid;
`
