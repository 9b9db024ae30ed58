package sqlinline

const QInsertBatchRequest = `--sql 38417052-d17c-4ac4-a881-9604299275f3
insert into batch_requests (id, provider, category, prompts, accounts, status, origin_country, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, $4::jsonb, $5::jsonb, 'QUEUED', nullif($6::text, ''), now(), now())
returning id::text;
`

const QClaimBatchRequest = `--sql db8f846d-0973-4876-b834-4d9e59f312a2
with next_batch as (
    select id
    from batch_requests
    where status = 'QUEUED'
    order by created_at asc
    for update skip locked
    limit 1
),
updated as (
    update batch_requests
    set status = 'RUNNING', updated_at = now()
    where id in (select id from next_batch)
    returning id::text as batch_id, provider, category, prompts, accounts, status,
        coalesce(origin_country, '') as origin, account_cursor, coalesce(error_message, '') as message,
        created_at, updated_at
)
select * from updated;
`

const QSelectBatchRequest = `--sql 0120fc38-3704-4b59-b176-6c5bab9ff27c
select id::text, provider, category, prompts, accounts, status, coalesce(origin_country, ''), account_cursor, coalesce(error_message, ''), created_at, updated_at
from batch_requests
where id = $1::uuid;
`

const QUpsertBatchResult = `--sql cd27218d-3e29-485f-8093-4e92462090d2
insert into batch_results (batch_id, job_index, prompt, status, artifact_ref, artifact_path, error, created_at)
values ($1::uuid, $2::int, $3::text, $4::text, nullif($5::text, ''), nullif($6::text, ''), nullif($7::text, ''), now())
on conflict (batch_id, job_index) do update set
    status = excluded.status,
    artifact_ref = excluded.artifact_ref,
    artifact_path = excluded.artifact_path,
    error = excluded.error;
`

const QSelectBatchResults = `--sql ea4d8580-e89e-4e28-b22c-c99b46f1cf28
select job_index, prompt, status, coalesce(artifact_ref, ''), coalesce(artifact_path, ''), coalesce(error, '')
from batch_results
where batch_id = $1::uuid
order by job_index asc;
`

const QFinishBatchRequest = `--sql 242dcba1-8cf2-4f09-bb16-1c328f097b4b
update batch_requests
set status = $2::text,
    account_cursor = $3::int,
    error_message = nullif($4::text, ''),
    updated_at = now()
where id = $1::uuid;
`
